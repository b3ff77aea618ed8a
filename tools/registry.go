package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/werserk/kira/llmrouter"
)

// Registry is the set of tools exposed to the agent graph and, via
// ToAPIFormat, to the LLM's native function calling.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec

	compiledMu sync.Mutex
	compiled   map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec), compiled: make(map[string]*jsonschema.Schema)}
}

// Register adds or replaces spec.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ToAPIFormat produces the provider-neutral Tool list for the LLM (spec.md
// §4.7).
func (r *Registry) ToAPIFormat() []llmrouter.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmrouter.Tool, 0, len(r.specs))
	for _, name := range r.sortedNamesLocked() {
		out = append(out, r.specs[name].toTool())
	}
	return out
}

func (r *Registry) sortedNamesLocked() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateArgs checks args against tool's declared JSON schema, compiling
// and caching it on first use.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	spec, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	schema, err := r.compiledSchema(name, spec.Parameters)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", name, err)
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(toJSONable(args)); err != nil {
		return fmt.Errorf("tools: arguments for %q: %w", name, err)
	}
	return nil
}

func (r *Registry) compiledSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	r.compiledMu.Lock()
	defer r.compiledMu.Unlock()

	if s, ok := r.compiled[name]; ok {
		return s, nil
	}
	if len(params) == 0 {
		r.compiled[name] = nil
		return nil, nil
	}
	resourceName := name + "#params.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, params); err != nil {
		return nil, err
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, err
	}
	r.compiled[name] = schema
	return schema, nil
}

// toJSONable round-trips args through JSON so values produced by Go code
// (e.g. float64 vs int) match what the jsonschema validator expects from a
// decoded JSON document.
func toJSONable(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

// Execute validates args then runs tool's Execute function. Tool errors
// become Result{Status: "error"} — never raised past this call (spec.md §7
// "Tool errors become ToolResult{status=error} — never raised past the
// tool node").
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, dryRun bool) Result {
	spec, ok := r.Get(name)
	if !ok {
		return Result{Status: "error", Error: fmt.Sprintf("unknown tool %q", name)}
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return Result{Status: "error", Error: err.Error()}
	}
	return spec.Execute(ctx, args, dryRun)
}

// IsDestructive reports whether name is flagged destructive, used by the
// reflect node's confirmation policy (spec.md §4.5).
func (r *Registry) IsDestructive(name string) bool {
	spec, ok := r.Get(name)
	return ok && spec.Destructive
}
