package hostapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLog appends one JSON line per Host API mutation to
// <data-dir>/audit/<date>.jsonl (SPEC_FULL.md §4.10 supplement: the
// persisted-state layout names an audit/ directory that spec.md's Host API
// section does not itself elaborate on).
type AuditLog struct {
	dir string

	mu      sync.Mutex
	day     string
	current *os.File
}

// AuditRecord is one audited mutation.
type AuditRecord struct {
	TS       time.Time `json:"ts"`
	TraceID  string    `json:"trace_id,omitempty"`
	Op       string    `json:"op"`
	EntityID string    `json:"entity_id"`
	Kind     string    `json:"kind,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// NewAuditLog returns a log rooted at <dataDir>/audit.
func NewAuditLog(dataDir string) *AuditLog {
	return &AuditLog{dir: filepath.Join(dataDir, "audit")}
}

// Append writes one audit record, rotating to a new day's file as needed.
func (a *AuditLog) Append(rec AuditRecord) error {
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("hostapi: marshal audit record: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	day := rec.TS.Format("2006-01-02")
	if a.current == nil || a.day != day {
		if a.current != nil {
			a.current.Close()
		}
		if err := os.MkdirAll(a.dir, 0o755); err != nil {
			return fmt.Errorf("hostapi: create audit dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(a.dir, day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("hostapi: open audit file: %w", err)
		}
		a.current = f
		a.day = day
	}
	_, err = a.current.Write(data)
	return err
}

// Close closes the currently open audit file, if any.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		return a.current.Close()
	}
	return nil
}
