package ingress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/werserk/kira/agent"
	"github.com/werserk/kira/bus"
)

type fakeExecutor struct {
	mu       sync.Mutex
	sessions []string
	result   agent.Result
	err      error
}

func (f *fakeExecutor) Run(ctx context.Context, sessionID, traceID, userText string, progress func(string), dryRun bool) (agent.Result, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	if progress != nil {
		progress("working...")
	}
	return f.result, f.err
}

type fakeAdapter struct {
	mu        sync.Mutex
	progress  []string
	responses []string
}

func (a *fakeAdapter) Progress(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = append(a.progress, text)
	return nil
}

func (a *fakeAdapter) Respond(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses = append(a.responses, text)
	return nil
}

func TestHandlerDerivesSessionAndRespondsThroughAdapter(t *testing.T) {
	exec := &fakeExecutor{result: agent.Result{Response: "hello back"}}
	adapter := &fakeAdapter{}
	h := NewHandler(exec, map[string]Adapter{"telegram": adapter}, nil)

	ev, err := bus.NewEvent("telegram", "msg-1", bus.TypeMessageReceived, map[string]any{
		"source":  "telegram",
		"chat_id": "42",
		"text":    "hi",
	})
	require.NoError(t, err)

	require.NoError(t, h.handle(context.Background(), ev))
	require.Equal(t, []string{"telegram:42"}, exec.sessions)
	require.Equal(t, []string{"hello back"}, adapter.responses)
	require.Equal(t, []string{"working..."}, adapter.progress)
}

func TestHandlerFallsBackWhenResponseEmpty(t *testing.T) {
	exec := &fakeExecutor{result: agent.Result{}}
	adapter := &fakeAdapter{}
	h := NewHandler(exec, map[string]Adapter{"cli": adapter}, nil)

	ev, err := bus.NewEvent("cli", "msg-2", bus.TypeMessageReceived, map[string]any{
		"source": "cli", "chat_id": "1", "text": "hi",
	})
	require.NoError(t, err)

	require.NoError(t, h.handle(context.Background(), ev))
	require.Equal(t, []string{fallbackResponse}, adapter.responses)
}

func TestHandlerSkipsUnknownSource(t *testing.T) {
	exec := &fakeExecutor{result: agent.Result{Response: "x"}}
	h := NewHandler(exec, map[string]Adapter{}, nil)

	ev, err := bus.NewEvent("unknown", "msg-3", bus.TypeMessageReceived, map[string]any{
		"source": "unknown", "chat_id": "1", "text": "hi",
	})
	require.NoError(t, err)
	require.NoError(t, h.handle(context.Background(), ev))
}
