package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	fm := Frontmatter{
		"title":      "Buy milk",
		"status":     "todo",
		"created_ts": "2026-07-29T10:00:00+00:00",
		"tags":       []string{"errand"},
	}
	path := PathFor("task", "task-20260729-1000-buy-milk")
	require.NoError(t, s.Write(path, fm, "Remember the oat milk.\n", true))

	gotFM, gotBody, err := s.Read(path)
	require.NoError(t, err)
	require.Equal(t, "Buy milk", gotFM["title"])
	require.Equal(t, "todo", gotFM["status"])
	require.Equal(t, "Remember the oat milk.\n", gotBody)
}

func TestWriteIsCanonical(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	fm1 := Frontmatter{"b": "2", "a": "1"}
	fm2 := Frontmatter{"a": "1", "b": "2"}

	require.NoError(t, s.Write("tasks/a.md", fm1, "body", true))
	want, err := os.ReadFile(filepath.Join(dir, "tasks/a.md"))
	require.NoError(t, err)

	require.NoError(t, s.Write("tasks/b.md", fm2, "body", true))
	got, err := os.ReadFile(filepath.Join(dir, "tasks/b.md"))
	require.NoError(t, err)

	require.Equal(t, string(want), string(got), "identical logical content must produce byte-identical files")
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	_, _, err = s.Read("tasks/nope.md")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadMalformed(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tasks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks/bad.md"), []byte("no frontmatter here"), 0o644))
	_, _, err = s.Read("tasks/bad.md")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestListSorted(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(PathFor("task", "task-b"), Frontmatter{"title": "b"}, "x", true))
	require.NoError(t, s.Write(PathFor("task", "task-a"), Frontmatter{"title": "a"}, "x", true))

	ids, err := s.List("task")
	require.NoError(t, err)
	require.Equal(t, []string{"task-a", "task-b"}, ids)
}

func TestListMissingKindIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ids, err := s.List("note")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestConcurrentWritesToDistinctEntities(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			id := filepath.Join("tasks", filepathSafe(i)+".md")
			errs <- s.Write(id, Frontmatter{"title": "t"}, "body", true)
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	ids, err := s.List("task")
	require.NoError(t, err)
	require.Len(t, ids, n)
}

func filepathSafe(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	out := ""
	for i > 0 {
		out = string(digits[i%10]) + out
		i /= 10
	}
	return out
}
