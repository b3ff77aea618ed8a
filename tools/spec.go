// Package tools declares the catalog of operations exposed to the LLM as
// function schemas (spec.md §4.7). Every tool wraps one or more Host API
// calls; none of them touches the filesystem directly.
package tools

import (
	"context"

	"github.com/werserk/kira/llmrouter"
)

// Result is the outcome of one tool execution (spec.md §3 "Tool result").
type Result struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK builds a successful Result.
func OK(data map[string]any) Result { return Result{Status: "ok", Data: data} }

// Err builds a failed Result from err's message.
func Err(err error) Result { return Result{Status: "error", Error: err.Error()} }

// ExecuteFunc performs the tool's operation. dryRun is true when the agent
// graph is planning without executing (HTTP `execute=false`, spec.md §6) —
// implementations must not mutate the vault in that case.
type ExecuteFunc func(ctx context.Context, args map[string]any, dryRun bool) Result

// Spec is one callable operation's full contract (spec.md §4.7).
type Spec struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing Execute's args.
	Parameters  map[string]any
	Destructive bool
	Execute     ExecuteFunc
}

// toTool converts one Spec to the provider-neutral function-calling
// declaration. This, plus Registry.ToAPIFormat, is the ONLY sanctioned path
// from internal tools to LLM schemas (spec.md §4.7) — never a
// prompt-engineered "return JSON" instruction.
func (s Spec) toTool() llmrouter.Tool {
	return llmrouter.Tool{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
}

// stringArg reads a required string argument, returning ok=false if absent
// or the wrong type.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// optStringArg reads an optional string argument, defaulting to "".
func optStringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// mapArg reads an optional object argument, defaulting to an empty map.
func mapArg(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
