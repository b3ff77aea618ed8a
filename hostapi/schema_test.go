package hostapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaCacheValidatesAgainstCompiledSchema(t *testing.T) {
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, ".kira", "schemas")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "task.json"), []byte(`{
		"type": "object",
		"required": ["title"],
		"properties": {"title": {"type": "string"}}
	}`), 0o644))

	c := NewSchemaCache(dir)

	err := c.Validate("task", map[string]any{"title": "Buy milk"})
	require.NoError(t, err)

	err = c.Validate("task", map[string]any{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSchemaCacheMissingSchemaAcceptsAnything(t *testing.T) {
	dir := t.TempDir()
	c := NewSchemaCache(dir)
	require.NoError(t, c.Validate("note", map[string]any{"anything": 1}))
}

func TestSchemaCacheReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, ".kira", "schemas")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	schemaPath := filepath.Join(schemaDir, "task.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type": "object"}`), 0o644))

	c := NewSchemaCache(dir)
	require.NoError(t, c.Validate("task", map[string]any{}))

	require.NoError(t, os.WriteFile(schemaPath, []byte(`{
		"type": "object", "required": ["title"]
	}`), 0o644))

	require.NoError(t, c.Validate("task", map[string]any{}), "stale cache should still accept before reload")

	c.ReloadSchemas()
	err := c.Validate("task", map[string]any{})
	require.Error(t, err)
}
