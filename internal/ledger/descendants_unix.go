//go:build !windows && !linux

package ledger

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// listDescendantsOS uses "pgrep -P <pid>" chains, the macOS/BSD fallback
// when there's no /proc to traverse directly.
func listDescendantsOS(ctx context.Context, roots []int) ([]ChildInfo, error) {
	return bfsDescendants(roots, func(pid int) []ChildInfo {
		out, err := exec.CommandContext(ctx, "pgrep", "-P", strconv.Itoa(pid)).Output()
		if err != nil {
			return nil
		}
		var children []ChildInfo
		for _, line := range strings.Fields(string(out)) {
			childPID, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			children = append(children, ChildInfo{PID: childPID, ParentPID: pid})
		}
		return children
	})
}
