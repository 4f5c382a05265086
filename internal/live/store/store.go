// Package store provides the durable local key/value store shared by the
// live session cache and the offline outbox.
//
// The store is an embedded SQLite database opened in WAL mode so the UI
// thread's reads never block on a background write. Two logical namespaces
// live in one file:
//
//   - kv: cache entries keyed socket_cache_{feature}_{sessionId}
//   - outbox: per-scope FIFO queues of not-yet-acknowledged mutations
//
// The store itself reports every failure; the swallow-on-error policy for
// best-effort writes belongs to the cache and outbox layers, not here.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding cache and outbox state.
type Store struct {
	conn *sql.DB
	path string
}

// QueuedEvent is a durably queued outbound mutation awaiting acknowledgment.
//
// Seq is assigned by the store on append and defines FIFO replay order
// within a scope. IdempotencyKey lets the server recognize a replayed
// duplicate after a crash mid-drain; OptimisticID correlates the queued
// event with its optimistic placeholder in the in-memory collection.
type QueuedEvent struct {
	Seq            int64
	ID             string
	ScopeKey       string
	EventName      string
	Payload        []byte
	IdempotencyKey string
	OptimisticID   string
	CreatedAt      time.Time
}

// Open creates or opens the store database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// Missing parent directories are created. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL,
	scope_key       TEXT NOT NULL,
	event_name      TEXT NOT NULL,
	payload         BLOB NOT NULL,
	idempotency_key TEXT NOT NULL,
	optimistic_id   TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_scope ON outbox(scope_key, seq);
`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create store schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key, or (nil, nil) when absent.
func (s *Store) Get(key string) ([]byte, time.Time, error) {
	var value []byte
	var updatedAt int64
	err := s.conn.QueryRow(
		"SELECT value, updated_at FROM kv WHERE key = ?", key,
	).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, time.UnixMilli(updatedAt), nil
}

// Put stores value under key, replacing any previous value wholesale.
func (s *Store) Put(key string, value []byte, now time.Time) error {
	_, err := s.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(key string) error {
	if _, err := s.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// AppendOutbox durably appends ev to its scope's queue and returns the
// assigned sequence number.
func (s *Store) AppendOutbox(ev QueuedEvent) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO outbox (id, scope_key, event_name, payload, idempotency_key, optimistic_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ScopeKey, ev.EventName, ev.Payload, ev.IdempotencyKey, ev.OptimisticID,
		ev.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to append outbox event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox sequence: %w", err)
	}
	return seq, nil
}

// ListOutbox returns all queued events for scope in FIFO insertion order.
func (s *Store) ListOutbox(scope string) ([]QueuedEvent, error) {
	rows, err := s.conn.Query(`
		SELECT seq, id, event_name, payload, idempotency_key, optimistic_id, created_at
		FROM outbox WHERE scope_key = ? ORDER BY seq`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox for %s: %w", scope, err)
	}
	defer rows.Close()

	var events []QueuedEvent
	for rows.Next() {
		ev := QueuedEvent{ScopeKey: scope}
		var createdAt int64
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.EventName, &ev.Payload,
			&ev.IdempotencyKey, &ev.OptimisticID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return events, nil
}

// RemoveOutbox deletes a single queued event by sequence number.
func (s *Store) RemoveOutbox(seq int64) error {
	if _, err := s.conn.Exec("DELETE FROM outbox WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("failed to remove outbox event %d: %w", seq, err)
	}
	return nil
}

// CountOutbox returns the number of queued events for scope.
func (s *Store) CountOutbox(scope string) (int, error) {
	var n int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM outbox WHERE scope_key = ?", scope,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox for %s: %w", scope, err)
	}
	return n, nil
}
