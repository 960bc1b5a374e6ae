package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// Ledger is the cross-restart process-accounting component: it owns the
// append-only event log, the sqlite-backed live snapshot, the current
// session's in-memory view, and descendant-enumeration caching.
type Ledger struct {
	mu        sync.Mutex
	sessionID string
	events    *EventLog
	store     *Store
	cache     *descendantCache

	active   map[int]ProcessEntry
	orphaned map[int]ProcessEntry
	recent   []ProcessEntry
}

// Open loads (or initializes) the ledger rooted at dir (the workspace's
// `.devtools` directory), reconciling any prior session's "active" PIDs
// into orphaned/recentlyCompleted.
func Open(dir string, now time.Time) (*Ledger, error) {
	events, err := OpenEventLog(filepath.Join(dir, "process-log.jsonl"))
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(filepath.Join(dir, "state.db"))
	if err != nil {
		_ = events.Close()
		return nil, err
	}

	l := &Ledger{
		sessionID: NewSessionID(now),
		events:    events,
		store:     store,
		cache:     newDescendantCache(5 * time.Second),
		active:    make(map[int]ProcessEntry),
		orphaned:  make(map[int]ProcessEntry),
	}

	if err := l.reconcile(now); err != nil {
		_ = l.Close()
		return nil, err
	}

	return l, nil
}

// Close releases the event log and database handles.
func (l *Ledger) Close() error {
	var firstErr error
	if err := l.events.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// reconcile is startup orphan detection: every entry flagged running
// from a prior session is probed for liveness and reclassified.
func (l *Ledger) reconcile(now time.Time) error {
	snap, ok, err := l.store.LoadSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return l.saveSnapshotLocked(now)
	}

	l.recent = snap.RecentlyCompleted
	for _, entry := range snap.Orphaned {
		l.orphaned[entry.PID] = entry
	}

	for _, entry := range snap.Active {
		if probeAlive(entry.PID) {
			entry.Status = StatusOrphaned
			l.orphaned[entry.PID] = entry
			logger.Info("ledger: reconciled PID %d as orphaned (prior session %s)", entry.PID, entry.SessionID)
			continue
		}
		ended := now
		entry.Status = StatusCompleted
		entry.EndedAt = &ended
		l.pushRecentLocked(entry)
		logger.Info("ledger: reconciled PID %d as recentlyCompleted (prior session %s)", entry.PID, entry.SessionID)
	}

	return l.saveSnapshotLocked(now)
}

// LogStarted records a started event and tracks pid as active.
func (l *Ledger) LogStarted(pid int, command, terminalName string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ProcessEntry{
		PID:          pid,
		Command:      command,
		TerminalName: terminalName,
		Status:       StatusRunning,
		StartedAt:    now,
		SessionID:    l.sessionID,
	}
	l.active[pid] = entry
	l.cache.invalidate()

	if err := l.events.Append(Event{Event: EventStarted, PID: pid, Command: command, TerminalName: terminalName, Timestamp: now, SessionID: l.sessionID}); err != nil {
		return err
	}
	return l.saveSnapshotLocked(now)
}

// LogCompleted moves pid from active to recentlyCompleted.
func (l *Ledger) LogCompleted(pid int, exitCode int, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.active[pid]
	if !ok {
		entry = ProcessEntry{PID: pid, SessionID: l.sessionID, StartedAt: now}
	}
	delete(l.active, pid)
	l.cache.invalidate()

	entry.Status = StatusCompleted
	ended := now
	entry.EndedAt = &ended
	code := exitCode
	entry.ExitCode = &code
	l.pushRecentLocked(entry)

	if err := l.events.Append(Event{Event: EventCompleted, PID: pid, ExitCode: &code, Timestamp: now, SessionID: l.sessionID}); err != nil {
		return err
	}
	return l.saveSnapshotLocked(now)
}

// KillPID kills pid (wherever it is tracked — active or orphaned),
// treating "already gone" as success, and logs a killed event. Killing an
// untracked PID twice does not raise or double-log: the second call finds
// no tracked entry and is a no-op (invariant 9).
func (l *Ledger) KillPID(pid int, now time.Time) error {
	l.mu.Lock()
	_, activeOK := l.active[pid]
	_, orphanOK := l.orphaned[pid]
	l.mu.Unlock()

	if !activeOK && !orphanOK {
		return nil
	}

	err := killPID(pid)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ledger: kill PID %d: %w", pid, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, pid)
	delete(l.orphaned, pid)
	l.cache.invalidate()

	if err := l.events.Append(Event{Event: EventKilled, PID: pid, Timestamp: now, SessionID: l.sessionID}); err != nil {
		return err
	}
	return l.saveSnapshotLocked(now)
}

// KillResult is the outcome of KillAllOrphans.
type KillResult struct {
	Killed []int         `json:"killed"`
	Failed []KillFailure `json:"failed"`
}

// KillFailure pairs a PID with why killing it failed.
type KillFailure struct {
	PID   int    `json:"pid"`
	Error string `json:"error"`
}

// KillAllOrphans kills every currently-orphaned PID, collecting per-PID
// failures rather than aborting on the first one.
func (l *Ledger) KillAllOrphans(now time.Time) KillResult {
	l.mu.Lock()
	pids := make([]int, 0, len(l.orphaned))
	for pid := range l.orphaned {
		pids = append(pids, pid)
	}
	l.mu.Unlock()

	result := KillResult{}
	for _, pid := range pids {
		if err := l.KillPID(pid, now); err != nil {
			result.Failed = append(result.Failed, KillFailure{PID: pid, Error: err.Error()})
			continue
		}
		result.Killed = append(result.Killed, pid)
	}
	return result
}

// ListDescendants returns descendants of every currently tracked PID
// (active + orphaned), using the TTL-bounded cache.
func (l *Ledger) ListDescendants(ctx context.Context) ([]ChildInfo, error) {
	l.mu.Lock()
	pids := make([]int, 0, len(l.active)+len(l.orphaned))
	for pid := range l.active {
		pids = append(pids, pid)
	}
	for pid := range l.orphaned {
		pids = append(pids, pid)
	}
	l.mu.Unlock()

	return l.cache.listDescendants(ctx, pids)
}

// RefreshActiveChildren forces the next ListDescendants call to bypass
// the cache, for callers that need a guaranteed-fresh snapshot.
func (l *Ledger) RefreshActiveChildren() {
	l.cache.invalidate()
}

// Snapshot returns a read-only copy of the current tracked state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buildSnapshotLocked(time.Now())
}

func (l *Ledger) buildSnapshotLocked(now time.Time) Snapshot {
	active := make([]ProcessEntry, 0, len(l.active))
	for _, e := range l.active {
		active = append(active, e)
	}
	orphaned := make([]ProcessEntry, 0, len(l.orphaned))
	for _, e := range l.orphaned {
		orphaned = append(orphaned, e)
	}
	return Snapshot{
		SessionID:         l.sessionID,
		Active:            active,
		Orphaned:          orphaned,
		RecentlyCompleted: append([]ProcessEntry(nil), l.recent...),
		SavedAt:           now,
	}
}

func (l *Ledger) saveSnapshotLocked(now time.Time) error {
	return l.store.SaveSnapshot(l.buildSnapshotLocked(now))
}

// pushRecentLocked appends to the recentlyCompleted ring, bounded to
// recentlyCompletedCap entries (invariant 2).
func (l *Ledger) pushRecentLocked(entry ProcessEntry) {
	l.recent = append(l.recent, entry)
	if len(l.recent) > recentlyCompletedCap {
		l.recent = l.recent[len(l.recent)-recentlyCompletedCap:]
	}
}
