package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/werserk/kira/llmrouter"
	"github.com/werserk/kira/tools"
)

// scriptedClient returns responses from a queue, one per call, regardless
// of which method is invoked — enough to drive the graph deterministically
// across its plan/reflect/respond LLM calls.
type scriptedClient struct {
	responses []llmrouter.Response
	calls     int
}

func (c *scriptedClient) next() (llmrouter.Response, error) {
	if c.calls >= len(c.responses) {
		return llmrouter.Response{Content: "done"}, nil
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func (c *scriptedClient) Name() string { return "scripted" }
func (c *scriptedClient) Chat(context.Context, []llmrouter.Message, llmrouter.CallOptions) (llmrouter.Response, error) {
	return c.next()
}
func (c *scriptedClient) ToolCall(context.Context, []llmrouter.Message, []llmrouter.Tool, llmrouter.CallOptions) (llmrouter.Response, error) {
	return c.next()
}
func (c *scriptedClient) Generate(context.Context, string, llmrouter.CallOptions) (llmrouter.Response, error) {
	return c.next()
}

func newTestRouter(client llmrouter.Client) *llmrouter.Router {
	return llmrouter.NewRouter(llmrouter.Config{
		Providers: map[string]llmrouter.Client{"scripted": client},
		TaskTypeProvider: map[llmrouter.TaskType]string{
			llmrouter.TaskPlanning:    "scripted",
			llmrouter.TaskStructuring: "scripted",
			llmrouter.TaskDefault:     "scripted",
		},
	}, nil)
}

func newTestRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.Spec{
		Name:       "task_list",
		Parameters: map[string]any{},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) tools.Result {
			return tools.OK(map[string]any{"tasks": []any{}})
		},
	})
	reg.Register(tools.Spec{
		Name:        "task_delete",
		Parameters:  map[string]any{},
		Destructive: true,
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) tools.Result {
			return tools.OK(map[string]any{"deleted": args["id"]})
		},
	})
	return reg
}

func TestGraphCasualConversationSkipsTools(t *testing.T) {
	client := &scriptedClient{responses: []llmrouter.Response{
		{Content: "Hey there, nothing to do here."},
	}}
	g := NewGraph(newTestRouter(client), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID:  "t1",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Hey there, nothing to do here.", final.Response)
	require.Empty(t, final.ToolResults)
}

func TestGraphExecutesNonDestructivePlan(t *testing.T) {
	client := &scriptedClient{responses: []llmrouter.Response{
		{ToolCalls: []llmrouter.ToolCall{{ID: "1", Name: "task_list", Arguments: map[string]any{}}}},
		{ToolCalls: nil, Content: "nothing further"},
		{Content: "Here are your tasks."},
	}}
	g := NewGraph(newTestRouter(client), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID:  "t2",
		Messages: []Message{{Role: "user", Content: "list my tasks"}},
	})
	require.NoError(t, err)
	require.Len(t, final.ToolResults, 1)
	require.Equal(t, "task_list", final.ToolResults[0].Tool)
	require.NotEmpty(t, final.Response)
}

func TestGraphDestructivePlanAsksForConfirmation(t *testing.T) {
	client := &scriptedClient{responses: []llmrouter.Response{
		{ToolCalls: []llmrouter.ToolCall{{ID: "1", Name: "task_delete", Arguments: map[string]any{"id": "task-1"}}}},
		{Content: "needs_confirmation\nDelete task-1?"},
	}}
	g := NewGraph(newTestRouter(client), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID:  "t3",
		Messages: []Message{{Role: "user", Content: "delete task-1"}},
	})
	require.NoError(t, err)
	require.True(t, final.PendingConfirmation)
	require.NotEmpty(t, final.PendingPlan)
	require.Equal(t, final.ConfirmationQuestion, final.Response)
}

func TestGraphConfirmationAffirmativeExecutesPendingPlan(t *testing.T) {
	client := &scriptedClient{responses: []llmrouter.Response{
		{Content: "All done."},
	}}
	g := NewGraph(newTestRouter(client), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID: "t4",
		Messages: []Message{
			{Role: "assistant", Content: "Delete task-1?"},
			{Role: "user", Content: "yes"},
		},
		PendingConfirmation:  true,
		PendingPlan:          []ToolCallStep{{Tool: "task_delete", Args: map[string]any{"id": "task-1"}}},
		ConfirmationQuestion: "Delete task-1?",
	})
	require.NoError(t, err)
	require.False(t, final.PendingConfirmation)
	require.Len(t, final.ToolResults, 1)
	require.Equal(t, "task-1", final.ToolResults[0].Result.Data["deleted"])
}

func TestGraphConfirmationNegativeCancelsPendingPlan(t *testing.T) {
	g := NewGraph(newTestRouter(&scriptedClient{}), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID: "t5",
		Messages: []Message{
			{Role: "assistant", Content: "Delete task-1?"},
			{Role: "user", Content: "no"},
		},
		PendingConfirmation:  true,
		PendingPlan:          []ToolCallStep{{Tool: "task_delete", Args: map[string]any{"id": "task-1"}}},
		ConfirmationQuestion: "Delete task-1?",
	})
	require.NoError(t, err)
	require.False(t, final.PendingConfirmation)
	require.Empty(t, final.ToolResults)
	require.Equal(t, "Okay, I won't do that.", final.Response)
}

func TestGraphThreadsDryRunIntoToolExecution(t *testing.T) {
	var sawDryRun bool
	reg := tools.NewRegistry()
	reg.Register(tools.Spec{
		Name:       "task_list",
		Parameters: map[string]any{},
		Execute: func(ctx context.Context, args map[string]any, dryRun bool) tools.Result {
			sawDryRun = dryRun
			return tools.OK(map[string]any{"tasks": []any{}})
		},
	})
	client := &scriptedClient{responses: []llmrouter.Response{
		{ToolCalls: []llmrouter.ToolCall{{ID: "1", Name: "task_list", Arguments: map[string]any{}}}},
		{ToolCalls: nil, Content: "nothing further"},
		{Content: "Here are your tasks."},
	}}
	g := NewGraph(newTestRouter(client), reg, nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID:  "t7",
		Messages: []Message{{Role: "user", Content: "list my tasks"}},
		DryRun:   true,
	})
	require.NoError(t, err)
	require.True(t, sawDryRun)
	require.Len(t, final.ToolResults, 1)
}

func TestGraphNeverReturnsWithoutResponse(t *testing.T) {
	client := &scriptedClient{responses: []llmrouter.Response{
		{}, // zero tool calls, zero content -> status completed, empty response -> hallucination guard
	}}
	g := NewGraph(newTestRouter(client), newTestRegistry(), nil)

	final, err := g.Run(context.Background(), AgentState{
		TraceID:  "t6",
		Messages: []Message{{Role: "user", Content: "..."}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, final.Response)
}
