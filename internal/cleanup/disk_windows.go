//go:build windows

package cleanup

import (
	"syscall"
	"unsafe"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procGetDiskFreeSpace = kernel32.NewProc("GetDiskFreeSpaceExW")
)

// DiskUsage returns current disk usage stats for the filesystem backing
// the `.devtools` directory.
func (c *Cleaner) DiskUsage() (usedPercent float64, usedBytes, totalBytes uint64, err error) {
	pathPtr, err := syscall.UTF16PtrFromString(c.devtoolsDir)
	if err != nil {
		return 0, 0, 0, err
	}

	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64
	ret, _, callErr := procGetDiskFreeSpace.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalNumberOfBytes)),
		uintptr(unsafe.Pointer(&totalNumberOfFreeBytes)),
	)
	if ret == 0 {
		return 0, 0, 0, callErr
	}

	totalBytes = totalNumberOfBytes
	usedBytes = totalNumberOfBytes - totalNumberOfFreeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return usedPercent, usedBytes, totalBytes, nil
}
