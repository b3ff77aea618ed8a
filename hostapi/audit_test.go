package hostapi

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuditLogAppendsOneLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLog(dir)
	defer a.Close()

	require.NoError(t, a.Append(AuditRecord{TS: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC), Op: "create_entity", EntityID: "task-1"}))
	require.NoError(t, a.Append(AuditRecord{TS: time.Date(2026, 7, 29, 10, 1, 0, 0, time.UTC), Op: "update_entity", EntityID: "task-1"}))

	f, err := os.Open(filepath.Join(dir, "audit", "2026-07-29.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestAuditLogRotatesAcrossDays(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLog(dir)
	defer a.Close()

	require.NoError(t, a.Append(AuditRecord{TS: time.Date(2026, 7, 29, 23, 59, 0, 0, time.UTC), Op: "x", EntityID: "a"}))
	require.NoError(t, a.Append(AuditRecord{TS: time.Date(2026, 7, 30, 0, 1, 0, 0, time.UTC), Op: "x", EntityID: "b"}))

	_, err := os.Stat(filepath.Join(dir, "audit", "2026-07-29.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "audit", "2026-07-30.jsonl"))
	require.NoError(t, err)
}
