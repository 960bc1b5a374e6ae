//go:build windows

package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"unicode/utf16"
)

// win32Process mirrors the fields pulled from Win32_Process.
type win32Process struct {
	ProcessId       int    `json:"ProcessId"`
	ParentProcessId int    `json:"ParentProcessId"`
	Name            string `json:"Name"`
}

// listDescendantsOS queries Win32_Process via a PowerShell script passed
// as a UTF-16LE, base64-encoded -EncodedCommand, then runs the same
// bounded BFS the other platforms use locally, over the full process
// table it returns in one shot (CIM queries are batch, not per-node).
func listDescendantsOS(ctx context.Context, roots []int) ([]ChildInfo, error) {
	const script = `Get-CimInstance Win32_Process | Select-Object ProcessId,ParentProcessId,Name | ConvertTo-Json -Compress`
	encoded := utf16LEBase64(script)

	out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-EncodedCommand", encoded).Output()
	if err != nil {
		return nil, fmt.Errorf("ledger: powershell process query: %w", err)
	}

	var procs []win32Process
	if err := json.Unmarshal(out, &procs); err != nil {
		// ConvertTo-Json emits a bare object, not an array, when there's
		// exactly one process; normalize by wrapping.
		var single win32Process
		if err2 := json.Unmarshal(out, &single); err2 != nil {
			return nil, fmt.Errorf("ledger: parse process list: %w", err)
		}
		procs = []win32Process{single}
	}

	childrenOf := make(map[int][]ChildInfo)
	for _, p := range procs {
		childrenOf[p.ParentProcessId] = append(childrenOf[p.ParentProcessId], ChildInfo{
			PID:       p.ProcessId,
			ParentPID: p.ParentProcessId,
			Command:   p.Name,
		})
	}

	return bfsDescendants(roots, func(pid int) []ChildInfo {
		return childrenOf[pid]
	})
}

func utf16LEBase64(script string) string {
	encoded := utf16.Encode([]rune(script))
	buf := make([]byte, len(encoded)*2)
	for i, r := range encoded {
		buf[i*2] = byte(r)
		buf[i*2+1] = byte(r >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
