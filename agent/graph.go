package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/werserk/kira/llmrouter"
	"github.com/werserk/kira/telemetry"
	"github.com/werserk/kira/tools"
)

// massUpdateThreshold is the N in "task_update on ≥N targets" (spec.md
// §4.5's reflect policy).
const massUpdateThreshold = 3

const planSystemPrompt = `You are Kira's planning node. Always call tools for data ` +
	`retrieval or mutation — never rely on conversation history for facts. Prefer ` +
	`parallel tool calls for independent operations. If the user is making casual ` +
	`conversation with nothing actionable, return zero tool calls.`

const reflectSystemPrompt = `You are Kira's safety reviewer. Given a proposed plan of ` +
	`tool calls, decide: "unsafe" if the plan is fundamentally broken (e.g. missing ` +
	`required arguments), "needs_confirmation" if it performs a destructive or ` +
	`mass-mutation operation that should be confirmed by the user first, or "ok" ` +
	`otherwise. Respond with a short verdict word and, for needs_confirmation, a ` +
	`human-readable question naming the affected entities.`

const respondSystemPrompt = `You are Kira, replying to the user. Never claim success ` +
	`when a tool returned an error. Never fabricate data not present in the execution ` +
	`results below. Conversation history is for context, not facts.`

// Graph wires the plan/reflect/tool/verify/respond nodes (spec.md §4.5) over
// a tool registry and an LLM router.
type Graph struct {
	Router   *llmrouter.Router
	Registry *tools.Registry
	Log      telemetry.Logger
}

// NewGraph builds a Graph. log may be nil.
func NewGraph(router *llmrouter.Router, registry *tools.Registry, log telemetry.Logger) *Graph {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Graph{Router: router, Registry: registry, Log: log}
}

// Run drives state through the node graph until a node produces a final
// response, following the routing table in spec.md §4.5 "Edges". Run never
// returns without state.Response set (the guarantee respond provides).
func (g *Graph) Run(ctx context.Context, state AgentState) (AgentState, error) {
	if state.Budget.MaxSteps == 0 {
		state.Budget.MaxSteps = 20
	}

	node := "plan"
	for {
		select {
		case <-ctx.Done():
			state.Error = "graph execution canceled"
			return g.respond(ctx, state), nil
		default:
		}

		switch node {
		case "plan":
			state = g.plan(ctx, state)
			node = routeAfterPlan(state)
		case "reflect":
			state = g.reflect(ctx, state)
			node = routeAfterReflect(state)
		case "tool":
			state = g.tool(ctx, state)
			node = routeAfterTool(state)
		case "verify":
			state = g.verify(ctx, state)
			node = "plan"
		case "respond":
			return g.respond(ctx, state), nil
		default:
			return g.respond(ctx, state), nil
		}
	}
}

func routeAfterPlan(s AgentState) string {
	switch {
	case s.Status == StatusError:
		return "respond"
	case s.Status == StatusCompleted:
		return "respond"
	case hasDestructiveStep(s):
		return "reflect"
	default:
		return "tool"
	}
}

func routeAfterReflect(s AgentState) string {
	if s.Status == StatusError || s.Status == StatusCompleted {
		return "respond"
	}
	return "tool"
}

func routeAfterTool(s AgentState) string {
	switch {
	case s.Budget.Exhausted():
		return "respond"
	case s.Error != "" && s.RetryCount < 2:
		return "plan"
	case s.Error != "":
		return "respond"
	case s.CurrentStep < len(s.Plan):
		return "tool"
	default:
		return "verify"
	}
}

func hasDestructiveStep(s AgentState) bool {
	return s.plannedDestructive
}

// plan calls the LLM via native function calling, handling the confirmation
// short-circuit first (spec.md §4.5 "plan").
func (g *Graph) plan(ctx context.Context, state AgentState) AgentState {
	latest := latestUserMessage(state.Messages)

	if state.PendingConfirmation && len(state.PendingPlan) > 0 {
		switch {
		case isAffirmative(latest):
			next := state.clearConfirmation()
			next.Plan = state.PendingPlan
			next.Status = StatusPlanned
			return next
		case isNegative(latest):
			next := state.clearConfirmation()
			next.Plan = nil
			next.Status = StatusCompleted
			next.Response = "Okay, I won't do that."
			return next
		default:
			// Not a yes/no: treat as a new request, explicitly clearing the
			// confirmation trio per spec.md §4.5.
			state = state.clearConfirmation()
		}
	}

	messages := toLLMMessages(planSystemPrompt, state.Messages)
	resp, err := g.Router.ToolCall(ctx, llmrouter.TaskPlanning, state.TraceID, messages, g.Registry.ToAPIFormat(), llmrouter.CallOptions{})
	if err != nil {
		g.Log.Error("agent: plan call failed", "trace_id", state.TraceID, "err", err.Error())
		state.Status = StatusError
		state.Error = fmt.Sprintf("planning failed: %v", err)
		return state
	}

	if len(resp.ToolCalls) == 0 {
		state.Plan = nil
		state.Status = StatusCompleted
		state.Response = resp.Content
		return state
	}

	plan := make([]ToolCallStep, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		plan[i] = ToolCallStep{Tool: tc.Name, Args: tc.Arguments}
	}
	state.Plan = plan
	state.CurrentStep = 0
	state.Reasoning = resp.Content
	state.Status = StatusPlanned
	state.plannedDestructive = g.planHasDestructive(plan)
	return state
}

// planHasDestructive implements the reflect trigger policy (spec.md §4.5
// "reflect"): task_delete always, task_update on ≥massUpdateThreshold
// targets, or any tool flagged destructive in its manifest.
func (g *Graph) planHasDestructive(plan []ToolCallStep) bool {
	updateTargets := map[string]struct{}{}
	for _, step := range plan {
		if g.Registry.IsDestructive(step.Tool) {
			return true
		}
		if step.Tool == "task_update" {
			if id, _ := step.Args["id"].(string); id != "" {
				updateTargets[id] = struct{}{}
			}
		}
	}
	return len(updateTargets) >= massUpdateThreshold
}

// reflect reviews a plan flagged destructive, asking the LLM to classify it
// (spec.md §4.5 "reflect").
func (g *Graph) reflect(ctx context.Context, state AgentState) AgentState {
	prompt := fmt.Sprintf("Proposed plan:\n%s", describePlan(state.Plan))
	resp, err := g.Router.Chat(ctx, llmrouter.TaskStructuring, state.TraceID,
		[]llmrouter.Message{{Role: llmrouter.RoleSystem, Content: reflectSystemPrompt}, {Role: llmrouter.RoleUser, Content: prompt}},
		llmrouter.CallOptions{})
	if err != nil {
		state.Status = StatusError
		state.Error = fmt.Sprintf("reflection failed: %v", err)
		return state
	}

	verdict := strings.ToLower(resp.Content)
	switch {
	case strings.Contains(verdict, "unsafe"):
		state.Plan = nil
		state.Status = StatusError
		state.Error = "plan rejected: unsafe"
		return state
	case strings.Contains(verdict, "needs_confirmation"):
		state.PendingConfirmation = true
		state.PendingPlan = state.Plan
		state.ConfirmationQuestion = extractConfirmationQuestion(resp.Content)
		state.Plan = nil
		state.Status = StatusCompleted
		return state
	default:
		return state
	}
}

// tool executes the plan step at CurrentStep (spec.md §4.5 "tool").
func (g *Graph) tool(ctx context.Context, state AgentState) AgentState {
	if state.CurrentStep >= len(state.Plan) {
		return state
	}
	step := state.Plan[state.CurrentStep]

	if state.ProgressCallback != nil {
		func() {
			defer func() { _ = recover() }() // callback failures are swallowed, spec.md §4.5
			state.ProgressCallback(statusText(step))
		}()
	}

	result := g.Registry.Execute(ctx, step.Tool, step.Args, state.DryRun)
	state.ToolResults = append(state.ToolResults, ToolResult{Tool: step.Tool, Args: step.Args, Result: result})
	state.Budget.StepsUsed++
	state.CurrentStep++

	if result.Status == "error" {
		state.Error = result.Error
		state.RetryCount++
	} else {
		state.Error = ""
	}
	return state
}

// verify performs a cheap, non-LLM sanity check on cumulative results
// (spec.md §4.5 "verify").
func (g *Graph) verify(_ context.Context, state AgentState) AgentState {
	for _, r := range state.ToolResults {
		if r.Result.Status == "ok" && r.Tool != "task_list" && r.Tool != "task_delete" && r.Tool != "rollup_daily" {
			if _, ok := r.Result.Data["id"]; !ok {
				state.Error = fmt.Sprintf("tool %s returned ok without an entity id", r.Tool)
				return state
			}
		}
	}
	return state
}

// respond generates the natural-language reply (spec.md §4.5 "respond").
func (g *Graph) respond(ctx context.Context, state AgentState) AgentState {
	if state.PendingConfirmation && state.ConfirmationQuestion != "" {
		state.Response = state.ConfirmationQuestion
		// Critical: explicitly re-emit the confirmation trio so it survives
		// the graph exit (spec.md §9) — they are already set on state, this
		// comment documents the contract rather than changing anything.
		return state
	}

	if len(state.ToolResults) == 0 && state.Error == "" && state.Response == "" {
		state.Error = "no operation performed"
	}

	if state.Response != "" && state.Error == "" && len(state.ToolResults) == 0 {
		// Already has a direct conversational reply from plan (zero tool calls).
		return state
	}

	prompt := buildRespondPrompt(state)
	resp, err := g.Router.Chat(ctx, llmrouter.TaskDefault, state.TraceID,
		[]llmrouter.Message{{Role: llmrouter.RoleSystem, Content: respondSystemPrompt}, {Role: llmrouter.RoleUser, Content: prompt}},
		llmrouter.CallOptions{})
	if err != nil {
		state.Response = fallbackResponse(state)
		return state
	}
	state.Response = resp.Content
	return state
}

func fallbackResponse(state AgentState) string {
	if state.Error != "" {
		return "Something went wrong: " + state.Error
	}
	return "Done."
}

func buildRespondPrompt(state AgentState) string {
	var b strings.Builder
	b.WriteString("User request: ")
	b.WriteString(latestUserMessage(state.Messages))
	b.WriteString("\n\nExecution results:\n")
	if len(state.ToolResults) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range state.ToolResults {
		marker := "✅"
		detail := ""
		if r.Result.Status == "error" {
			marker = "❌"
			detail = r.Result.Error
		} else if data, err := json.Marshal(r.Result.Data); err == nil {
			detail = string(data)
		}
		fmt.Fprintf(&b, "%s %s(%v): %s\n", marker, r.Tool, r.Args, detail)
	}
	if state.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", state.Error)
	}
	return b.String()
}

func describePlan(plan []ToolCallStep) string {
	var b strings.Builder
	for _, step := range plan {
		fmt.Fprintf(&b, "- %s(%v)\n", step.Tool, step.Args)
	}
	return b.String()
}

func statusText(step ToolCallStep) string {
	return fmt.Sprintf("Running %s...", step.Tool)
}

// extractConfirmationQuestion skips the leading verdict keyword line
// ("needs_confirmation") and returns the first remaining non-empty line, or
// a generic fallback question if the LLM gave none.
func extractConfirmationQuestion(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return "This action is destructive. Proceed?"
}

func latestUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func toLLMMessages(systemPrompt string, history []Message) []llmrouter.Message {
	out := make([]llmrouter.Message, 0, len(history)+1)
	out = append(out, llmrouter.Message{Role: llmrouter.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		role := llmrouter.RoleUser
		if m.Role == "assistant" {
			role = llmrouter.RoleAssistant
		}
		out = append(out, llmrouter.Message{Role: role, Content: m.Content})
	}
	return out
}
