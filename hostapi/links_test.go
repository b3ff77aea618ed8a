package hostapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinksFromMetadataAndBody(t *testing.T) {
	meta := map[string]any{MetaLinks: []string{"note-a"}}
	body := "See [[note-b]] and also [[note-a]] again, plus [[note-c|display text]]."

	got := extractLinks(meta, body)
	require.Equal(t, []string{"note-a", "note-b", "note-c"}, got)
}

func TestExtractLinksDeduplicates(t *testing.T) {
	meta := map[string]any{MetaLinks: []any{"note-a", "note-a"}}
	got := extractLinks(meta, "[[note-a]]")
	require.Equal(t, []string{"note-a"}, got)
}

func TestExtractLinksEmpty(t *testing.T) {
	require.Empty(t, extractLinks(nil, "no links here"))
}
