// Package ingress correlates inbound bus messages to agent sessions and
// invokes the agent executor (spec.md §4.6).
package ingress

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/werserk/kira/agent"
	"github.com/werserk/kira/bus"
	"github.com/werserk/kira/telemetry"
)

const fallbackResponse = "Sorry, something went wrong and I couldn't process that."

// Executor is the subset of *agent.Executor the handler depends on.
type Executor interface {
	Run(ctx context.Context, sessionID, traceID, userText string, progress func(string), dryRun bool) (agent.Result, error)
}

// Adapter is the channel-specific side of one conversation: it can show
// progress and must deliver the final reply back to the user.
type Adapter interface {
	// Progress is called zero or more times while the request is processed.
	Progress(ctx context.Context, chatID, text string) error
	// Respond delivers the final reply to chatID.
	Respond(ctx context.Context, chatID, text string) error
}

// Handler subscribes to bus.TypeMessageReceived and drives one agent run
// per inbound message (spec.md §4.6).
type Handler struct {
	executor Executor
	adapters map[string]Adapter
	log      telemetry.Logger
}

// NewHandler builds a Handler. adapters maps a message's "source" field
// (e.g. "telegram", "cli") to the Adapter that can reply on that channel.
func NewHandler(executor Executor, adapters map[string]Adapter, log telemetry.Logger) *Handler {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Handler{executor: executor, adapters: adapters, log: log}
}

// Subscribe registers the handler on b and returns the unsubscribe func.
func (h *Handler) Subscribe(b *bus.Bus) func() {
	return b.Subscribe(bus.TypeMessageReceived, h.handle)
}

func (h *Handler) handle(ctx context.Context, ev bus.Event) error {
	source, _ := ev.Payload["source"].(string)
	if source == "" {
		source = ev.Source
	}
	chatID, _ := ev.Payload["chat_id"].(string)
	text, _ := ev.Payload["text"].(string)

	sessionID := fmt.Sprintf("%s:%s", source, chatID)
	traceID := fmt.Sprintf("%s-%s-%s", source, chatID, uuid.NewString())

	adapter := h.adapters[source]

	var progress func(string)
	if adapter != nil {
		progress = func(text string) {
			if err := adapter.Progress(ctx, chatID, text); err != nil {
				h.log.Warn("ingress: progress callback failed", "trace_id", traceID, "err", err.Error())
			}
		}
	}

	result, err := h.executor.Run(ctx, sessionID, traceID, text, progress, false)
	reply := result.Response
	if err != nil {
		h.log.Error("ingress: executor run failed", "trace_id", traceID, "session_id", sessionID, "err", err.Error())
	}
	if reply == "" {
		reply = fallbackResponse
	}

	if adapter == nil {
		h.log.Warn("ingress: no adapter registered for source", "source", source, "trace_id", traceID)
		return nil
	}
	if err := adapter.Respond(ctx, chatID, reply); err != nil {
		return fmt.Errorf("ingress: adapter respond: %w", err)
	}
	return nil
}
