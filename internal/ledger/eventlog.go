package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// EventLog is the append-only process-log.jsonl writer. The spec models
// exactly one writer per workspace (the Client-side extension); Go's
// goroutines aren't the single-threaded event loop that invariant assumes,
// so a mutex stands in for it here rather than relying on caller
// discipline.
type EventLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenEventLog opens (creating if absent) the append-only log at path.
func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open event log %s: %w", path, err)
	}
	return &EventLog{path: path, f: f}, nil
}

// Append writes one JSON line and fsyncs it: the log is the durable record
// that startup reconciliation trusts over the live snapshot if the two
// ever disagree.
func (l *EventLog) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ledger: marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("ledger: append event: %w", err)
	}
	return l.f.Sync()
}

// Close closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
