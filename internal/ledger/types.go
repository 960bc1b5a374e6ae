// Package ledger is the cross-restart process accounting component: an
// append-only event log, a live "active processes" snapshot, recursive
// descendant discovery, and orphan reconciliation across editor restarts.
package ledger

import "time"

// Status is the lifecycle state of a tracked process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
	StatusOrphaned  Status = "orphaned"
)

// EventKind is the append-only log's record discriminator.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventKilled    EventKind = "killed"
)

// Event is one append-only, JSON-lines record.
type Event struct {
	Event        EventKind `json:"event"`
	PID          int       `json:"pid"`
	Command      string    `json:"command,omitempty"`
	TerminalName string    `json:"terminalName,omitempty"`
	ExitCode     *int      `json:"exitCode,omitempty"`
	Timestamp    time.Time `json:"ts"`
	SessionID    string    `json:"sessionId"`
}

// ChildInfo is one descendant discovered by listDescendants.
type ChildInfo struct {
	PID       int    `json:"pid"`
	ParentPID int    `json:"parentPid"`
	Command   string `json:"command,omitempty"`
}

// ProcessEntry is one tracked process, live or recently resolved.
type ProcessEntry struct {
	PID          int         `json:"pid"`
	Command      string      `json:"command,omitempty"`
	TerminalName string      `json:"terminalName,omitempty"`
	Status       Status      `json:"status"`
	StartedAt    time.Time   `json:"startedAt"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
	ExitCode     *int        `json:"exitCode,omitempty"`
	SessionID    string      `json:"sessionId"`
	Children     []ChildInfo `json:"children,omitempty"`
}

// Snapshot is the live "active processes" artifact, fully rewritten on
// every mutating operation.
type Snapshot struct {
	SessionID         string         `json:"sessionId"`
	Active            []ProcessEntry `json:"active"`
	Orphaned          []ProcessEntry `json:"orphaned"`
	RecentlyCompleted []ProcessEntry `json:"recentlyCompleted"`
	SavedAt           time.Time      `json:"savedAt"`
}

// recentlyCompletedCap bounds the ring buffer invariant 2 requires.
const recentlyCompletedCap = 10

// NewSessionID returns a monotonic per-process ID: an ISO timestamp with
// its separators stripped, so it sorts lexically the same as
// chronologically.
func NewSessionID(now time.Time) string {
	return stripSeparators(now.UTC().Format(time.RFC3339Nano))
}

func stripSeparators(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '-', ':', '.', 'T', 'Z', '+':
			continue
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
