// Package llmrouter defines the unified LLM adapter contract (spec.md §4.4)
// and a Router that selects a provider per task type, retries transient
// failures with exponential backoff, and falls back to a local provider
// when every remote attempt is exhausted.
package llmrouter

import (
	"context"
	"errors"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a provider-neutral conversation.
type Message struct {
	Role    Role
	Content string
	// ToolCallID identifies which ToolCall a RoleTool message answers.
	ToolCallID string
}

// Tool is the provider-neutral function-calling declaration passed to
// tool_call: name, description, and a JSON-schema object of parameters
// (spec.md §4.4).
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one function invocation the model requested. Arguments is
// always a structured object, never raw text requiring parsing (spec.md
// §4.4's guarantee).
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the unified result shape across chat, tool_call, and
// generate (spec.md §4.4).
type Response struct {
	Content      string
	FinishReason string
	ToolCalls    []ToolCall
	Usage        Usage
	Model        string
}

// CallOptions configures one request to a Client.
type CallOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client is the provider-independent adapter contract every LLM backend
// implements (spec.md §4.4).
type Client interface {
	// Name identifies the provider for logging and config (e.g. "anthropic",
	// "openai", "local").
	Name() string
	Chat(ctx context.Context, messages []Message, opts CallOptions) (Response, error)
	ToolCall(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error)
	Generate(ctx context.Context, prompt string, opts CallOptions) (Response, error)
}

// Error kinds distinguished for retry/fallback policy (spec.md §4.4, §7).
var (
	ErrTimeout        = errors.New("llmrouter: timeout")
	ErrRateLimit      = errors.New("llmrouter: rate limited")
	ErrTransient      = errors.New("llmrouter: transient provider error")
	ErrAuth           = errors.New("llmrouter: authentication failed")
	ErrInvalidRequest = errors.New("llmrouter: invalid request")
)

// AdapterError wraps a provider failure with the kind used to pick a retry
// strategy. Use errors.Is against the package-level Err* sentinels to
// classify one.
type AdapterError struct {
	Kind     error
	Provider string
	Err      error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return e.Provider + ": " + e.Kind.Error()
	}
	return e.Provider + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error { return e.Kind }

// Retryable reports whether err's kind is ever worth retrying or falling
// back from. Auth and InvalidRequest are never retried (spec.md §4.4).
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransient)
}
