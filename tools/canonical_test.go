package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/werserk/kira/bus"
	"github.com/werserk/kira/hostapi"
	"github.com/werserk/kira/hostapi/linkgraph"
	"github.com/werserk/kira/vault"
)

func newTestRegistry(t *testing.T) (*Registry, *hostapi.Gateway) {
	t.Helper()
	dir := t.TempDir()

	store, err := vault.New(dir)
	require.NoError(t, err)
	schemas := hostapi.NewSchemaCache(dir)
	journal, err := hostapi.OpenLinkJournal(dir)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	graph, err := linkgraph.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	gw, err := hostapi.NewGateway(store, schemas, journal, graph, noopPublisher{}, hostapi.WithClock(func() time.Time {
		return time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)

	reg := NewRegistry()
	RegisterCanonicalTools(reg, gw, time.UTC)
	return reg, gw
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, bus.Event) error { return nil }

func TestTaskCreateAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	res := reg.Execute(ctx, "task_create", map[string]any{"title": "Write report"}, false)
	require.Equal(t, "ok", res.Status)
	id, _ := res.Data["id"].(string)
	require.NotEmpty(t, id)

	res = reg.Execute(ctx, "task_get", map[string]any{"id": id}, false)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, id, res.Data["id"])
}

func TestTaskCreateDryRunDoesNotPersist(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	res := reg.Execute(ctx, "task_create", map[string]any{"title": "Draft only"}, true)
	require.Equal(t, "ok", res.Status)

	list := reg.Execute(ctx, "task_list", map[string]any{}, false)
	require.Equal(t, "ok", list.Status)
	require.Empty(t, list.Data["tasks"])
}

func TestTaskUpdateRejectsIllegalTransition(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created := reg.Execute(ctx, "task_create", map[string]any{"title": "No assignee"}, false)
	id := created.Data["id"].(string)

	res := reg.Execute(ctx, "task_update", map[string]any{"id": id, "patch": map[string]any{"status": "doing"}}, false)
	require.Equal(t, "error", res.Status)
	require.NotEmpty(t, res.Error)
}

func TestTaskDeleteIsDestructive(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.True(t, reg.IsDestructive("task_delete"))
	require.False(t, reg.IsDestructive("task_list"))
}

func TestTaskDeleteRemovesEntity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created := reg.Execute(ctx, "task_create", map[string]any{"title": "Gone"}, false)
	id := created.Data["id"].(string)

	res := reg.Execute(ctx, "task_delete", map[string]any{"id": id}, false)
	require.Equal(t, "ok", res.Status)

	res = reg.Execute(ctx, "task_get", map[string]any{"id": id}, false)
	require.Equal(t, "error", res.Status)
}

func TestNoteCreate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	res := reg.Execute(context.Background(), "note_create", map[string]any{"title": "Meeting notes", "content": "discussed X"}, false)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, "note", res.Data["kind"])
}

func TestRollupDailyCountsCompletedTasks(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created := reg.Execute(ctx, "task_create", map[string]any{"title": "Ship feature", "assignee": "alice"}, false)
	id := created.Data["id"].(string)
	reg.Execute(ctx, "task_update", map[string]any{"id": id, "patch": map[string]any{"status": "doing"}}, false)
	reg.Execute(ctx, "task_update", map[string]any{"id": id, "patch": map[string]any{"status": "done"}}, false)

	res := reg.Execute(ctx, "rollup_daily", map[string]any{"date": "2026-07-29"}, false)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, 1, res.Data["count"])
}

func TestInboxNormalizeSplitsTitleAndBody(t *testing.T) {
	reg, _ := newTestRegistry(t)
	res := reg.Execute(context.Background(), "inbox_normalize", map[string]any{"text": "Buy milk\nAlso eggs and bread"}, false)
	require.Equal(t, "ok", res.Status)
	meta, _ := res.Data["metadata"].(map[string]any)
	require.Equal(t, "Buy milk", meta["title"])
}

func TestUnknownToolReturnsError(t *testing.T) {
	reg, _ := newTestRegistry(t)
	res := reg.Execute(context.Background(), "does_not_exist", nil, false)
	require.Equal(t, "error", res.Status)
}
