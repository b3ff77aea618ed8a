package hostapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JournalEntry is one write-ahead record for link-graph crash recovery
// (spec.md §4.2 step 5): appended and fsynced before the entity file write,
// then marked processed after the link graph has been updated. Op is
// "upsert" or "delete".
type JournalEntry struct {
	Seq      int64     `json:"seq"`
	Op       string    `json:"op"`
	EntityID string    `json:"entity_id"`
	TS       time.Time `json:"ts"`
}

type processedEntry struct {
	Processed int64 `json:"processed"`
}

// LinkJournal is the append-only JSONL write-ahead log at
// <vault>/.kira/link_journal.jsonl.
type LinkJournal struct {
	path string

	mu     sync.Mutex
	f      *os.File
	nextSeq int64
}

// OpenLinkJournal opens (creating if absent) the journal file and scans it
// to determine the next sequence number.
func OpenLinkJournal(vaultRoot string) (*LinkJournal, error) {
	dir := filepath.Join(vaultRoot, ".kira")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hostapi: create .kira dir: %w", err)
	}
	path := filepath.Join(dir, "link_journal.jsonl")

	var maxSeq int64
	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
				continue
			}
			if seqRaw, ok := raw["seq"]; ok {
				var seq int64
				if err := json.Unmarshal(seqRaw, &seq); err == nil && seq > maxSeq {
					maxSeq = seq
				}
			}
			if procRaw, ok := raw["processed"]; ok {
				var seq int64
				if err := json.Unmarshal(procRaw, &seq); err == nil && seq > maxSeq {
					maxSeq = seq
				}
			}
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("hostapi: scan link journal: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("hostapi: open link journal: %w", err)
	}
	return &LinkJournal{path: path, f: f, nextSeq: maxSeq + 1}, nil
}

// Append writes and fsyncs a new journal entry, returning it so the caller
// can later call MarkProcessed with its Seq.
func (j *LinkJournal) Append(op, entityID string) (JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{Seq: j.nextSeq, Op: op, EntityID: entityID, TS: time.Now().UTC()}
	j.nextSeq++

	if err := j.writeLine(entry); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// MarkProcessed appends a processed-marker line referencing seq, so
// Unprocessed will not return it on the next startup.
func (j *LinkJournal) MarkProcessed(seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeLine(processedEntry{Processed: seq})
}

func (j *LinkJournal) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("hostapi: marshal journal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("hostapi: write journal entry: %w", err)
	}
	return j.f.Sync()
}

// Close closes the underlying file handle.
func (j *LinkJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Unprocessed scans the journal on disk and returns every entry whose Seq
// has no corresponding processed-marker, in ascending Seq order. Call on
// startup and replay the results against the link graph (spec.md §4.2:
// "On startup, any unprocessed journal entries are replayed").
func Unprocessed(vaultRoot string) ([]JournalEntry, error) {
	path := filepath.Join(vaultRoot, ".kira", "link_journal.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hostapi: open link journal: %w", err)
	}
	defer f.Close()

	entries := make(map[int64]JournalEntry)
	processed := make(map[int64]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		var proc processedEntry
		if err := json.Unmarshal(line, &proc); err == nil && proc.Processed != 0 {
			processed[proc.Processed] = true
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err == nil && entry.EntityID != "" {
			entries[entry.Seq] = entry
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hostapi: scan link journal: %w", err)
	}

	out := make([]JournalEntry, 0, len(entries))
	for seq, entry := range entries {
		if !processed[seq] {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
