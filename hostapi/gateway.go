// Package hostapi is the sole write path to the vault (spec.md §4.2):
// plugins and tools MUST go through it, never the filesystem directly. It
// validates schemas, assigns stable IDs, enforces the task FSM, maintains
// the bidirectional link graph, writes atomically via vault.Store, and
// emits lifecycle events on the bus.
package hostapi

import (
	"context"
	"fmt"
	"time"

	"github.com/werserk/kira/bus"
	"github.com/werserk/kira/hostapi/linkgraph"
	"github.com/werserk/kira/telemetry"
	"github.com/werserk/kira/vault"
)

// Publisher is the subset of bus.Bus the gateway depends on, kept as an
// interface so tests can substitute a recording fake.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Gateway implements the Host API: create/read/update/upsert/delete/list
// over vault entities.
type Gateway struct {
	store   *vault.Store
	schemas *SchemaCache
	journal *LinkJournal
	graph   *linkgraph.Graph
	bus     Publisher
	audit   *AuditLog
	log     telemetry.Logger

	now func() time.Time
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithAuditLog attaches an audit log that every mutation appends to.
func WithAuditLog(a *AuditLog) Option { return func(g *Gateway) { g.audit = a } }

// WithLogger overrides the gateway's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Gateway) { g.log = l.With("component", "hostapi") }
}

// WithClock overrides the gateway's time source, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// NewGateway wires together the vault store, schema cache, link journal,
// link graph, and event bus into one Host API instance. On construction,
// any journal entries left unprocessed by a prior crash are replayed
// against the link graph (spec.md §4.2: "On startup, any unprocessed
// journal entries are replayed").
func NewGateway(store *vault.Store, schemas *SchemaCache, journal *LinkJournal, graph *linkgraph.Graph, publisher Publisher, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		store:   store,
		schemas: schemas,
		journal: journal,
		graph:   graph,
		bus:     publisher,
		log:     telemetry.NewNoopLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.replayJournal(); err != nil {
		return nil, fmt.Errorf("hostapi: replay link journal: %w", err)
	}
	return g, nil
}

func (g *Gateway) replayJournal() error {
	entries, err := Unprocessed(g.store.Root())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Op == "delete" {
			if err := g.graph.Remove(entry.EntityID); err != nil {
				return fmt.Errorf("replay delete %s: %w", entry.EntityID, err)
			}
			continue
		}
		fm, body, err := g.store.Read(vault.PathFor(kindOf(entry.EntityID), entry.EntityID))
		if err != nil {
			g.log.Warn("skipping unreadable entity during journal replay", "entity_id", entry.EntityID, "error", err.Error())
			continue
		}
		links := extractLinks(fm, body)
		if err := g.graph.SetLinks(entry.EntityID, links); err != nil {
			return fmt.Errorf("replay upsert %s: %w", entry.EntityID, err)
		}
	}
	return nil
}

// kindOf recovers an entity's kind from its ID prefix (<kind>-YYYYMMDD-...).
func kindOf(id string) string {
	for i, r := range id {
		if r == '-' {
			return id[:i]
		}
	}
	return id
}

// CreateEntity validates data, assigns an ID if absent, and runs the full
// write pipeline (spec.md §4.2).
func (g *Gateway) CreateEntity(ctx context.Context, kind string, data map[string]any, content string) (Entity, error) {
	meta := cloneMeta(data)
	now := g.now()

	if id, ok := meta["id"].(string); ok && id != "" {
		if g.exists(kind, id) {
			return Entity{}, &DuplicateIdError{ID: id}
		}
	} else {
		meta["id"] = assignID(kind, stringMeta(meta, MetaTitle), now, func(candidate string) bool {
			return g.exists(kind, candidate)
		})
	}
	id := meta["id"].(string)
	delete(meta, "id")

	meta[MetaCreatedTS] = formatTimestamp(now)
	meta[MetaUpdatedTS] = formatTimestamp(now)
	if _, ok := meta[MetaStatus]; !ok && kind == KindTask {
		meta[MetaStatus] = StatusTodo
	}

	if err := g.schemas.Validate(kind, meta); err != nil {
		return Entity{}, err
	}

	return g.writeEntity(ctx, "created", kind, id, nil, meta, content)
}

// UpdateEntity applies patch to an existing entity, enforcing the task FSM
// for status changes.
func (g *Gateway) UpdateEntity(ctx context.Context, id string, patch map[string]any) (Entity, error) {
	kind := kindOf(id)
	path := vault.PathFor(kind, id)

	fm, body, err := g.store.Read(path)
	if err != nil {
		if err == vault.ErrNotFound {
			return Entity{}, &NotFoundError{ID: id}
		}
		return Entity{}, &IOError{Op: "read", Err: err}
	}

	before := cloneMeta(fm)
	merged := cloneMeta(fm)
	p := cloneMeta(patch)

	newContent := body
	if c, ok := p["content"].(string); ok {
		newContent = c
		delete(p, "content")
	}

	if kind == KindTask {
		if err := checkTaskTransition(stringMeta(before, MetaStatus), before, p, g.now()); err != nil {
			return Entity{}, err
		}
	}
	for k, v := range p {
		merged[k] = v
	}
	merged[MetaUpdatedTS] = formatTimestamp(g.now())

	if err := g.schemas.Validate(kind, merged); err != nil {
		return Entity{}, err
	}

	return g.writeEntity(ctx, "updated", kind, id, before, merged, newContent)
}

// UpsertEntity creates or updates id-or-selector. If idempotencyKey is set
// and already maps to an entity (via its metadata field "idempotency_key"),
// the existing entity is returned unchanged with wasCreated=false (spec.md
// §4.2 "Idempotent upsert").
func (g *Gateway) UpsertEntity(ctx context.Context, kind, id string, data map[string]any, content string, idempotencyKey string) (entity Entity, wasCreated bool, err error) {
	if idempotencyKey != "" {
		if existing, ok := g.findByIdempotencyKey(kind, idempotencyKey); ok {
			return existing, false, nil
		}
	}

	meta := cloneMeta(data)
	if idempotencyKey != "" {
		meta["idempotency_key"] = idempotencyKey
	}

	if id == "" {
		created, err := g.CreateEntity(ctx, kind, meta, content)
		return created, true, err
	}
	if !g.exists(kind, id) {
		meta["id"] = id
		created, err := g.CreateEntity(ctx, kind, meta, content)
		return created, true, err
	}
	updated, err := g.UpdateEntity(ctx, id, mergeContent(meta, content))
	return updated, false, err
}

func mergeContent(meta map[string]any, content string) map[string]any {
	patch := cloneMeta(meta)
	patch["content"] = content
	return patch
}

func (g *Gateway) findByIdempotencyKey(kind, key string) (Entity, bool) {
	ids, err := g.store.List(kind)
	if err != nil {
		return Entity{}, false
	}
	for _, id := range ids {
		fm, body, err := g.store.Read(vault.PathFor(kind, id))
		if err != nil {
			continue
		}
		if stringMeta(fm, "idempotency_key") == key {
			return Entity{ID: id, Kind: kind, Metadata: fm, Content: body, Path: vault.PathFor(kind, id)}, true
		}
	}
	return Entity{}, false
}

// DeleteEntity removes an entity's file and link-graph node atomically with
// respect to each other: the journal's delete record is written and
// fsynced, then the file removed, then the graph node removed, then the
// journal entry is marked processed (spec.md §4.2, "Lifecycles").
func (g *Gateway) DeleteEntity(ctx context.Context, id string) error {
	kind := kindOf(id)
	path := vault.PathFor(kind, id)

	release := g.store.Lock(id)
	defer release()

	before, _, err := g.store.Read(path)
	if err != nil {
		if err == vault.ErrNotFound {
			return &NotFoundError{ID: id}
		}
		return &IOError{Op: "read", Err: err}
	}

	entry, err := g.journal.Append("delete", id)
	if err != nil {
		return &IOError{Op: "journal append", Err: err}
	}

	if err := g.store.Delete(path); err != nil {
		return &IOError{Op: "delete", Err: err}
	}
	if err := g.graph.Remove(id); err != nil {
		return &IOError{Op: "linkgraph remove", Err: err}
	}

	g.emit(ctx, bus.TypeEntityDeleted, id, kind, before, nil)
	g.recordAudit(ctx,"delete_entity", id, kind, "")

	return g.journal.MarkProcessed(entry.Seq)
}

// ReadEntity loads one entity by ID.
func (g *Gateway) ReadEntity(id string) (Entity, error) {
	kind := kindOf(id)
	path := vault.PathFor(kind, id)
	fm, body, err := g.store.Read(path)
	if err != nil {
		if err == vault.ErrNotFound {
			return Entity{}, &NotFoundError{ID: id}
		}
		return Entity{}, &ParseError{Path: path, Err: err}
	}
	return Entity{ID: id, Kind: kind, Metadata: fm, Content: body, Path: path}, nil
}

// Filter narrows list_entities results. A nil or zero-value field imposes no
// constraint on that dimension.
type Filter struct {
	Status string
	Tag    string
}

// ListEntities reads every entity of kind and returns those matching filter
// as one slice; it does not enumerate lazily.
func (g *Gateway) ListEntities(kind string, filter Filter) ([]Entity, error) {
	ids, err := g.store.List(kind)
	if err != nil {
		return nil, &IOError{Op: "list", Err: err}
	}
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		fm, body, err := g.store.Read(vault.PathFor(kind, id))
		if err != nil {
			continue
		}
		if filter.Status != "" && stringMeta(fm, MetaStatus) != filter.Status {
			continue
		}
		if filter.Tag != "" && !hasTag(fm, filter.Tag) {
			continue
		}
		out = append(out, Entity{ID: id, Kind: kind, Metadata: fm, Content: body, Path: vault.PathFor(kind, id)})
	}
	return out, nil
}

func hasTag(fm map[string]any, tag string) bool {
	switch tags := fm[MetaTags].(type) {
	case []string:
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok && s == tag {
				return true
			}
		}
	}
	return false
}

func (g *Gateway) exists(kind, id string) bool {
	_, _, err := g.store.Read(vault.PathFor(kind, id))
	return err == nil
}

// writeEntity runs steps 4-10 of the write pipeline: lock, write-ahead
// journal, atomic file write, link graph update, event emission, mark
// processed, release lock.
func (g *Gateway) writeEntity(ctx context.Context, eventSuffix, kind, id string, before, after map[string]any, content string) (Entity, error) {
	release := g.store.Lock(id)
	defer release()

	entry, err := g.journal.Append("upsert", id)
	if err != nil {
		return Entity{}, &IOError{Op: "journal append", Err: err}
	}

	path := vault.PathFor(kind, id)
	if err := g.store.Write(path, after, content, true); err != nil {
		return Entity{}, &IOError{Op: "write", Err: err}
	}

	links := extractLinks(after, content)
	if err := g.graph.SetLinks(id, links); err != nil {
		return Entity{}, &IOError{Op: "linkgraph update", Err: err}
	}

	var eventType string
	switch eventSuffix {
	case "created":
		eventType = bus.TypeEntityCreated
	default:
		eventType = bus.TypeEntityUpdated
	}
	g.emit(ctx, eventType, id, kind, before, after)
	g.maybeEmitTaskTransition(ctx, kind, id, before, after)
	g.recordAudit(ctx,eventSuffix+"_entity", id, kind, "")

	if err := g.journal.MarkProcessed(entry.Seq); err != nil {
		return Entity{}, &IOError{Op: "journal mark processed", Err: err}
	}

	return Entity{ID: id, Kind: kind, Metadata: after, Content: content, Path: path}, nil
}

func (g *Gateway) maybeEmitTaskTransition(ctx context.Context, kind, id string, before, after map[string]any) {
	if kind != KindTask {
		return
	}
	from := stringMeta(before, MetaStatus)
	to := stringMeta(after, MetaStatus)
	if from == to || to == "" {
		return
	}
	var eventType string
	switch to {
	case StatusDoing:
		eventType = bus.TypeTaskEnterDoing
	case StatusReview:
		eventType = bus.TypeTaskEnterReview
	case StatusDone:
		eventType = bus.TypeTaskEnterDone
	case StatusBlocked:
		eventType = bus.TypeTaskEnterBlocked
	default:
		return
	}
	g.emit(ctx, eventType, id, kind, before, after)
}

func (g *Gateway) emit(ctx context.Context, eventType, id, kind string, before, after map[string]any) {
	if g.bus == nil {
		return
	}
	traceID := TraceIDFromContext(ctx)
	ev, err := bus.NewEvent("hostapi", id+":"+eventType, eventType, map[string]any{
		"id": id, "kind": kind, "before": before, "after": after, "trace_id": traceID,
	})
	if err != nil {
		g.log.Error("failed to build event", "entity_id", id, "type", eventType, "error", err.Error())
		return
	}
	ev.TraceID = traceID
	if err := g.bus.Publish(ctx, ev); err != nil {
		g.log.Error("failed to publish event", "entity_id", id, "type", eventType, "error", err.Error())
	}
}

func (g *Gateway) recordAudit(ctx context.Context, op, entityID, kind, errText string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Append(AuditRecord{Op: op, EntityID: entityID, Kind: kind, Error: errText, TraceID: TraceIDFromContext(ctx)}); err != nil {
		g.log.Error("failed to append audit record", "entity_id", entityID, "op", op, "error", err.Error())
	}
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
