package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store backs the live snapshot and the hot-reload hash store with a
// small sqlite database: one writer, WAL-friendly, queryable for
// diagnostics without parsing a bespoke file format. The event log stays
// separate, append-only JSON-lines on disk (see EventLog) — folding it
// into a SQL table would break the "append-only, simple tail" property
// startup reconciliation depends on.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the sqlite database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ledger: open state db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: migrate state db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		session_id TEXT NOT NULL,
		active_json TEXT NOT NULL,
		orphaned_json TEXT NOT NULL,
		recently_completed_json TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hash_store (
		package TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot fully rewrites the single live-snapshot row each time it
// is called, rather than diffing against the previous one.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	activeJSON, err := json.Marshal(snap.Active)
	if err != nil {
		return fmt.Errorf("ledger: marshal active: %w", err)
	}
	orphanedJSON, err := json.Marshal(snap.Orphaned)
	if err != nil {
		return fmt.Errorf("ledger: marshal orphaned: %w", err)
	}
	recentJSON, err := json.Marshal(snap.RecentlyCompleted)
	if err != nil {
		return fmt.Errorf("ledger: marshal recentlyCompleted: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshot (id, session_id, active_json, orphaned_json, recently_completed_json, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			active_json = excluded.active_json,
			orphaned_json = excluded.orphaned_json,
			recently_completed_json = excluded.recently_completed_json,
			saved_at = excluded.saved_at`,
		snap.SessionID, string(activeJSON), string(orphanedJSON), string(recentJSON), snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted snapshot, or a zero-value Snapshot
// with ok=false if none has ever been saved.
func (s *Store) LoadSnapshot() (snap Snapshot, ok bool, err error) {
	var activeJSON, orphanedJSON, recentJSON string
	row := s.db.QueryRow(`SELECT session_id, active_json, orphaned_json, recently_completed_json, saved_at FROM snapshot WHERE id = 1`)
	if err := row.Scan(&snap.SessionID, &activeJSON, &orphanedJSON, &recentJSON, &snap.SavedAt); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("ledger: load snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(activeJSON), &snap.Active); err != nil {
		return Snapshot{}, false, fmt.Errorf("ledger: unmarshal active: %w", err)
	}
	if err := json.Unmarshal([]byte(orphanedJSON), &snap.Orphaned); err != nil {
		return Snapshot{}, false, fmt.Errorf("ledger: unmarshal orphaned: %w", err)
	}
	if err := json.Unmarshal([]byte(recentJSON), &snap.RecentlyCompleted); err != nil {
		return Snapshot{}, false, fmt.Errorf("ledger: unmarshal recentlyCompleted: %w", err)
	}
	return snap, true, nil
}

// SetHash commits a package's content hash. Callers must only call this
// after a successful build, per invariant 3: a failed build never commits
// a hash.
func (s *Store) SetHash(pkg, contentHash string) error {
	_, err := s.db.Exec(`
		INSERT INTO hash_store (package, content_hash, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(package) DO UPDATE SET content_hash = excluded.content_hash, updated_at = excluded.updated_at`,
		pkg, contentHash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ledger: set hash for %s: %w", pkg, err)
	}
	return nil
}

// GetHash returns the committed hash for pkg, or ok=false if none exists.
func (s *Store) GetHash(pkg string) (hash string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT content_hash FROM hash_store WHERE package = ?`, pkg)
	if err := row.Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ledger: get hash for %s: %w", pkg, err)
	}
	return hash, true, nil
}
