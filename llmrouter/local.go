package llmrouter

import (
	"context"
	"strings"
)

// LocalAdapter is a deterministic, dependency-free fallback used when every
// remote provider's retries are exhausted (spec.md §4.4 "local fallback
// provider"). It does not interpret the conversation: it always returns one
// of two fixed "unavailable" messages rather than fabricating an answer —
// there is no model behind it to hallucinate with.
type LocalAdapter struct{}

// NewLocalAdapter constructs the no-dependency fallback adapter.
func NewLocalAdapter() *LocalAdapter { return &LocalAdapter{} }

func (a *LocalAdapter) Name() string { return "local" }

func (a *LocalAdapter) Chat(_ context.Context, messages []Message, _ CallOptions) (Response, error) {
	return Response{Content: a.reply(messages), FinishReason: "stop", Model: "local-rule-based"}, nil
}

// ToolCall never fabricates function calls: with no model available, the
// honest answer is "no tools were invoked". The reply carries no tool calls
// and a non-empty "unavailable" message, which the agent graph's plan node
// returns to the user as the turn's response.
func (a *LocalAdapter) ToolCall(_ context.Context, messages []Message, _ []Tool, _ CallOptions) (Response, error) {
	return Response{Content: a.reply(messages), FinishReason: "stop", Model: "local-rule-based"}, nil
}

func (a *LocalAdapter) Generate(_ context.Context, prompt string, _ CallOptions) (Response, error) {
	return Response{Content: a.reply([]Message{{Role: RoleUser, Content: prompt}}), FinishReason: "stop", Model: "local-rule-based"}, nil
}

func (a *LocalAdapter) reply(messages []Message) string {
	if len(messages) == 0 {
		return "The assistant is temporarily unavailable. Please try again shortly."
	}
	last := strings.ToLower(strings.TrimSpace(messages[len(messages)-1].Content))
	switch {
	case last == "":
		return "The assistant is temporarily unavailable. Please try again shortly."
	default:
		return "All configured language model providers are currently unavailable, so no action was taken. Please try again shortly."
	}
}
