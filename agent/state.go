// Package agent implements the graph that turns one inbound message into a
// reply: plan tool calls, reflect on destructive ones, execute, verify, and
// respond (spec.md §4.5, "the heart of the system").
package agent

import "github.com/werserk/kira/tools"

// Status is the coarse outcome of the current graph step.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ToolCallStep is one planned invocation of a registered tool.
type ToolCallStep struct {
	Tool string
	Args map[string]any
}

// ToolResult is the outcome of executing one ToolCallStep.
type ToolResult struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result tools.Result   `json:"result"`
}

// Budget bounds one graph run's resource consumption (spec.md §5).
type Budget struct {
	MaxSteps  int
	StepsUsed int
}

// Exhausted reports whether the step budget has been used up.
func (b Budget) Exhausted() bool { return b.MaxSteps > 0 && b.StepsUsed >= b.MaxSteps }

// AgentState is the full state threaded through the graph. Nodes are pure
// transformers: each takes the current state by value and returns the next
// state, so every field a node does not assign carries forward unchanged
// (spec.md §4.5). The confirmation trio
// (PendingConfirmation/PendingPlan/ConfirmationQuestion) is reset only
// through clearConfirmation, so a pending confirmation survives a graph exit
// until a node clears it explicitly (see §9).
type AgentState struct {
	SessionID string
	TraceID   string

	Messages []Message

	Plan        []ToolCallStep
	Reasoning   string
	CurrentStep int
	ToolResults []ToolResult
	RetryCount  int
	Budget      Budget
	Status      Status
	Error       string
	Response    string

	PendingConfirmation  bool
	PendingPlan          []ToolCallStep
	ConfirmationQuestion string

	// DryRun, when set, threads through to every tool execution this run
	// (spec.md §6 "POST /agent/chat" — execute=false plans without mutating).
	DryRun bool

	// ProgressCallback is invoked before each tool executes; failures are
	// swallowed (spec.md §4.5 "tool" node).
	ProgressCallback func(text string) `json:"-"`

	// plannedDestructive records whether plan triggered the reflect policy,
	// set by (*Graph).plan and read by the routing table after plan.
	plannedDestructive bool
}

// clearConfirmation returns a copy of s with the confirmation trio reset to
// its zero value, the explicit-reset path a node takes when treating the
// latest message as a brand-new request (spec.md §4.5 "plan" node).
func (s AgentState) clearConfirmation() AgentState {
	s.PendingConfirmation = false
	s.PendingPlan = nil
	s.ConfirmationQuestion = ""
	return s
}
