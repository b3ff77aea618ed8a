package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists conversation history and pending-confirmation state across
// graph runs (spec.md §4.5 "Session memory and persistence"). It shares the
// same SQLite-file idiom as bus.IdempotencyStore (modernc.org/sqlite, pure
// Go, no cgo).
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the SQLite database at dsn and
// ensures the conversations and session_state tables exist.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("agent: open session store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT NOT NULL,
	turn_idx   INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	ts         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, turn_idx);

CREATE TABLE IF NOT EXISTS session_state (
	session_id            TEXT PRIMARY KEY,
	pending_confirmation  INTEGER NOT NULL,
	pending_plan_json     TEXT NOT NULL,
	confirmation_question TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: create session tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LoadSession loads the last n messages and any pending confirmation state
// for sessionID (spec.md §4.5 "On graph entry").
func (s *Store) LoadSession(ctx context.Context, sessionID string, n int) (AgentState, error) {
	state := AgentState{SessionID: sessionID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM conversations WHERE session_id = ? ORDER BY turn_idx DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return state, fmt.Errorf("agent: load conversation: %w", err)
	}
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			rows.Close()
			return state, fmt.Errorf("agent: scan conversation row: %w", err)
		}
		messages = append(messages, m)
	}
	rows.Close()
	// Reverse: rows came back newest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	state.Messages = messages

	row := s.db.QueryRowContext(ctx,
		`SELECT pending_confirmation, pending_plan_json, confirmation_question FROM session_state WHERE session_id = ?`,
		sessionID)
	var pending int
	var planJSON, question string
	switch err := row.Scan(&pending, &planJSON, &question); {
	case err == sql.ErrNoRows:
		return state, nil
	case err != nil:
		return state, fmt.Errorf("agent: load session_state: %w", err)
	}
	state.PendingConfirmation = pending != 0
	state.ConfirmationQuestion = question
	if planJSON != "" {
		var plan []ToolCallStep
		if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
			return state, fmt.Errorf("agent: decode pending_plan_json: %w", err)
		}
		state.PendingPlan = plan
	}
	return state, nil
}

// SaveTurn appends one turn and reconciles session_state after a graph run
// (spec.md §4.5 "On graph exit").
func (s *Store) SaveTurn(ctx context.Context, sessionID, userText string, final AgentState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("agent: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	nextIdx, err := nextTurnIndex(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(session_id, turn_idx, role, content, ts) VALUES (?, ?, 'user', ?, ?)`,
		sessionID, nextIdx, userText, now); err != nil {
		return fmt.Errorf("agent: insert user turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(session_id, turn_idx, role, content, ts) VALUES (?, ?, 'assistant', ?, ?)`,
		sessionID, nextIdx+1, final.Response, now); err != nil {
		return fmt.Errorf("agent: insert assistant turn: %w", err)
	}

	if final.PendingConfirmation {
		planJSON, err := json.Marshal(final.PendingPlan)
		if err != nil {
			return fmt.Errorf("agent: encode pending_plan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO session_state(session_id, pending_confirmation, pending_plan_json, confirmation_question, updated_at)
VALUES (?, 1, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET pending_confirmation=1, pending_plan_json=excluded.pending_plan_json,
	confirmation_question=excluded.confirmation_question, updated_at=excluded.updated_at`,
			sessionID, string(planJSON), final.ConfirmationQuestion, now); err != nil {
			return fmt.Errorf("agent: upsert session_state: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_state WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("agent: clear session_state: %w", err)
		}
	}

	return tx.Commit()
}

func nextTurnIndex(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(turn_idx), -1) FROM conversations WHERE session_id = ?`, sessionID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("agent: max turn_idx: %w", err)
	}
	return max + 1, nil
}

// TrimSession enforces the per-session exchange cap (default maxExchanges=10,
// spec.md §4.5 "Conversation memory size"), deleting the oldest turns beyond
// 2*maxExchanges messages (one user + one assistant row per exchange).
func (s *Store) TrimSession(ctx context.Context, sessionID string, maxExchanges int) error {
	keep := maxExchanges * 2
	_, err := s.db.ExecContext(ctx, `
DELETE FROM conversations WHERE session_id = ? AND turn_idx NOT IN (
	SELECT turn_idx FROM conversations WHERE session_id = ? ORDER BY turn_idx DESC LIMIT ?
)`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("agent: trim session: %w", err)
	}
	return nil
}
