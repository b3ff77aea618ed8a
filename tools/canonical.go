package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/werserk/kira/hostapi"
	"github.com/werserk/kira/localday"
)

// RegisterCanonicalTools wires the canonical minimum tool set (spec.md
// §4.7) onto reg, each operation a thin wrapper over gw. loc is the
// core.timezone location rollup_daily uses for its local-day window
// (spec.md §6 "Default TZ for ID generation and local-time windows"); nil
// means UTC.
func RegisterCanonicalTools(reg *Registry, gw *hostapi.Gateway, loc *time.Location) {
	reg.Register(taskListSpec(gw))
	reg.Register(taskGetSpec(gw))
	reg.Register(taskCreateSpec(gw))
	reg.Register(taskUpdateSpec(gw))
	reg.Register(taskDeleteSpec(gw))
	reg.Register(noteCreateSpec(gw))
	reg.Register(rollupDailySpec(gw, loc))
	reg.Register(inboxNormalizeSpec(gw))
}

func entityToMap(e hostapi.Entity) map[string]any {
	return map[string]any{"id": e.ID, "kind": e.Kind, "metadata": e.Metadata, "content": e.Content}
}

func taskListSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "task_list",
		Description: "List tasks, optionally filtered by status or tag.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string", "enum": []string{"todo", "doing", "review", "done", "blocked"}},
				"tag":    map[string]any{"type": "string"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			filter := hostapi.Filter{Status: optStringArg(args, "status"), Tag: optStringArg(args, "tag")}
			entities, err := gw.ListEntities(hostapi.KindTask, filter)
			if err != nil {
				return Err(err)
			}
			items := make([]map[string]any, len(entities))
			for i, e := range entities {
				items[i] = entityToMap(e)
			}
			return OK(map[string]any{"tasks": items})
		},
	}
}

func taskGetSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "task_get",
		Description: "Fetch one task by ID.",
		Parameters: map[string]any{
			"type":       "object",
			"required":   []string{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			id, ok := stringArg(args, "id")
			if !ok {
				return Result{Status: "error", Error: "id is required"}
			}
			e, err := gw.ReadEntity(id)
			if err != nil {
				return Err(err)
			}
			return OK(entityToMap(e))
		},
	}
}

func taskCreateSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "task_create",
		Description: "Create a new task.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"title"},
			"properties": map[string]any{
				"title":    map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
				"assignee": map[string]any{"type": "string"},
				"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			title, ok := stringArg(args, "title")
			if !ok {
				return Result{Status: "error", Error: "title is required"}
			}
			if dryRun {
				return OK(map[string]any{"would_create": title})
			}
			content := optStringArg(args, "content")
			data := map[string]any{"title": title}
			if assignee := optStringArg(args, "assignee"); assignee != "" {
				data["assignee"] = assignee
			}
			if tags, ok := args["tags"]; ok {
				data["tags"] = tags
			}
			e, err := gw.CreateEntity(ctx, hostapi.KindTask, data, content)
			if err != nil {
				return Err(err)
			}
			return OK(entityToMap(e))
		},
	}
}

func taskUpdateSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "task_update",
		Description: "Update an existing task's status or metadata.",
		Parameters: map[string]any{
			"type":       "object",
			"required":   []string{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "string"}, "patch": map[string]any{"type": "object"}},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			id, ok := stringArg(args, "id")
			if !ok {
				return Result{Status: "error", Error: "id is required"}
			}
			patch := mapArg(args, "patch")
			if dryRun {
				return OK(map[string]any{"would_update": id, "patch": patch})
			}
			e, err := gw.UpdateEntity(ctx, id, patch)
			if err != nil {
				return Err(err)
			}
			return OK(entityToMap(e))
		},
	}
}

func taskDeleteSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "task_delete",
		Description: "Permanently delete a task.",
		Parameters: map[string]any{
			"type":       "object",
			"required":   []string{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		},
		Destructive: true,
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			id, ok := stringArg(args, "id")
			if !ok {
				return Result{Status: "error", Error: "id is required"}
			}
			if dryRun {
				return OK(map[string]any{"would_delete": id})
			}
			if err := gw.DeleteEntity(ctx, id); err != nil {
				return Err(err)
			}
			return OK(map[string]any{"deleted": id})
		},
	}
}

func noteCreateSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "note_create",
		Description: "Create a new note.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"title"},
			"properties": map[string]any{
				"title":   map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			title, ok := stringArg(args, "title")
			if !ok {
				return Result{Status: "error", Error: "title is required"}
			}
			if dryRun {
				return OK(map[string]any{"would_create": title})
			}
			e, err := gw.CreateEntity(ctx, "note", map[string]any{"title": title}, optStringArg(args, "content"))
			if err != nil {
				return Err(err)
			}
			return OK(entityToMap(e))
		},
	}
}

// rollupDailySpec creates a summary note of tasks that entered "done" on
// the given local date. The note is upserted under a per-date idempotency
// key, so a later run for the same date returns the existing note unchanged
// (spec.md's Non-goals exclude full rollup/reporting generation as an
// external service, but a minimal same-process summary tool is in scope
// for the canonical set spec.md §4.7 names).
func rollupDailySpec(gw *hostapi.Gateway, loc *time.Location) Spec {
	if loc == nil {
		loc = time.UTC
	}
	return Spec{
		Name:        "rollup_daily",
		Description: "Summarize tasks completed on a given date (YYYY-MM-DD, defaults to today).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"date": map[string]any{"type": "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			date := optStringArg(args, "date")
			if date == "" {
				date = time.Now().In(loc).Format("2006-01-02")
			}
			tasks, err := gw.ListEntities(hostapi.KindTask, hostapi.Filter{Status: hostapi.StatusDone})
			if err != nil {
				return Err(err)
			}
			var completed []string
			for _, t := range tasks {
				doneTS, _ := t.Metadata["done_ts"].(string)
				if doneTS == "" {
					continue
				}
				ts, err := time.Parse(time.RFC3339, doneTS)
				if err != nil {
					continue
				}
				in, err := localday.Contains(ts, date, loc)
				if err != nil {
					return Err(err)
				}
				if in {
					completed = append(completed, fmt.Sprintf("- %s", t.Metadata[hostapi.MetaTitle]))
				}
			}
			sort.Strings(completed)
			body := fmt.Sprintf("# Rollup for %s\n\n%s\n", date, strings.Join(completed, "\n"))
			if dryRun {
				return OK(map[string]any{"would_create_rollup_for": date, "count": len(completed)})
			}
			_, _, err = gw.UpsertEntity(ctx, "note", "", map[string]any{"title": "Rollup " + date}, body, "rollup:"+date)
			if err != nil {
				return Err(err)
			}
			return OK(map[string]any{"date": date, "count": len(completed)})
		},
	}
}

// inboxNormalizeSpec turns raw captured text into a structured entity: the
// first line becomes the title, the rest becomes the body, grounding the
// "inbox.normalized" canonical event (spec.md §6) in a concrete operation.
func inboxNormalizeSpec(gw *hostapi.Gateway) Spec {
	return Spec{
		Name:        "inbox_normalize",
		Description: "Convert a raw inbox capture into a structured note or task.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
				"kind": map[string]any{"type": "string", "enum": []string{"note", "task"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) Result {
			text, ok := stringArg(args, "text")
			if !ok {
				return Result{Status: "error", Error: "text is required"}
			}
			kind := optStringArg(args, "kind")
			if kind == "" {
				kind = "note"
			}
			lines := strings.SplitN(strings.TrimSpace(text), "\n", 2)
			title := strings.TrimSpace(lines[0])
			body := ""
			if len(lines) > 1 {
				body = strings.TrimSpace(lines[1])
			}
			if dryRun {
				return OK(map[string]any{"would_create": title, "kind": kind})
			}
			e, err := gw.CreateEntity(ctx, kind, map[string]any{"title": title}, body)
			if err != nil {
				return Err(err)
			}
			return OK(entityToMap(e))
		},
	}
}
