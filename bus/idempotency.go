package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// IdempotencyStore deduplicates events by event_id in a SQLite table,
// mirroring spec.md §4.3's seen_events(event_id PK, first_seen_ts,
// last_seen_ts). modernc.org/sqlite is a pure-Go driver, avoiding a cgo
// dependency for what is otherwise a single-file embedded store.
type IdempotencyStore struct {
	db *sql.DB
}

// OpenIdempotencyStore opens (creating if absent) the SQLite database at
// dsn and ensures the seen_events table and its supporting index exist.
// dsn is typically a file path such as "<data-dir>/conversations.db"; the
// idempotency table shares that database with the session and conversation
// tables per spec.md §6's persisted-state layout.
func OpenIdempotencyStore(dsn string) (*IdempotencyStore, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("bus: open idempotency store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS seen_events (
	event_id      TEXT PRIMARY KEY,
	first_seen_ts TEXT NOT NULL,
	last_seen_ts  TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus: create seen_events table: %w", err)
	}
	return &IdempotencyStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error { return s.db.Close() }

// CheckAndMark reports whether eventID has already been seen. If it has
// not, a row is inserted and false (not a duplicate) is returned; the
// insert and the duplicate check happen atomically within one transaction
// so concurrent deliveries of the same event cannot both proceed.
func (s *IdempotencyStore) CheckAndMark(ctx context.Context, eventID string) (duplicate bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("bus: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM seen_events WHERE event_id = ?`, eventID)
	var one int
	switch err := row.Scan(&one); {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seen_events(event_id, first_seen_ts, last_seen_ts) VALUES (?, ?, ?)`,
			eventID, now, now); err != nil {
			return false, fmt.Errorf("bus: insert seen_events: %w", err)
		}
		return false, tx.Commit()
	case err != nil:
		return false, fmt.Errorf("bus: query seen_events: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE seen_events SET last_seen_ts = ? WHERE event_id = ?`, now, eventID); err != nil {
			return true, fmt.Errorf("bus: update seen_events: %w", err)
		}
		return true, tx.Commit()
	}
}

// Sweep deletes rows whose last_seen_ts is older than ttl, implementing the
// idempotency record lifecycle ("swept by TTL (default 30 days)",
// spec.md §3).
func (s *IdempotencyStore) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE last_seen_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("bus: sweep seen_events: %w", err)
	}
	return res.RowsAffected()
}
