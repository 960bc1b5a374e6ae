//go:build !windows

package cleanup

import "syscall"

// DiskUsage returns current disk usage stats for the filesystem backing
// the `.devtools` directory.
func (c *Cleaner) DiskUsage() (usedPercent float64, usedBytes, totalBytes uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.devtoolsDir, &stat); err != nil {
		return 0, 0, 0, err
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return usedPercent, usedBytes, totalBytes, nil
}
