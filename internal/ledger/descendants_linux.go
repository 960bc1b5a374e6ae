//go:build linux

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// listDescendantsOS walks /proc, building a parentPID -> children index,
// then runs the same bounded BFS as the Windows CIM backend over it.
func listDescendantsOS(ctx context.Context, roots []int) ([]ChildInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	childrenOf := make(map[int][]ChildInfo)
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ppid, comm, ok := readProcStat(pid)
		if !ok {
			continue
		}
		childrenOf[ppid] = append(childrenOf[ppid], ChildInfo{PID: pid, ParentPID: ppid, Command: comm})
	}

	return bfsDescendants(roots, func(pid int) []ChildInfo {
		return childrenOf[pid]
	})
}

// readProcStat parses /proc/<pid>/stat for the parent PID (field 4) and
// comm (field 2, parenthesized and possibly containing spaces).
func readProcStat(pid int) (ppid int, comm string, ok bool) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, "", false
	}
	s := string(data)

	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < 0 || close <= open {
		return 0, "", false
	}
	comm = s[open+1 : close]

	rest := strings.Fields(s[close+1:])
	// rest[0] = state, rest[1] = ppid
	if len(rest) < 2 {
		return 0, "", false
	}
	ppid, err = strconv.Atoi(rest[1])
	if err != nil {
		return 0, "", false
	}
	return ppid, comm, true
}
