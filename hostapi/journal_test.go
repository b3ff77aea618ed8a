package hostapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenLinkJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	entry, err := j.Append("upsert", "task-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.Seq)

	unprocessed, err := Unprocessed(dir)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	require.NoError(t, j.MarkProcessed(entry.Seq))

	unprocessed, err = Unprocessed(dir)
	require.NoError(t, err)
	require.Empty(t, unprocessed)
}

func TestJournalResumesSeqAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	j1, err := OpenLinkJournal(dir)
	require.NoError(t, err)
	e1, err := j1.Append("upsert", "task-1")
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := OpenLinkJournal(dir)
	require.NoError(t, err)
	defer j2.Close()
	e2, err := j2.Append("upsert", "task-2")
	require.NoError(t, err)

	require.Greater(t, e2.Seq, e1.Seq)
}

func TestUnprocessedOnMissingJournalIsEmpty(t *testing.T) {
	dir := t.TempDir()
	entries, err := Unprocessed(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
