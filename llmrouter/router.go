package llmrouter

import (
	"context"
	"math/rand"
	"time"

	"github.com/werserk/kira/telemetry"
)

// TaskType selects which configured provider handles a call (spec.md §4.4).
type TaskType string

const (
	TaskPlanning    TaskType = "planning"
	TaskStructuring TaskType = "structuring"
	TaskDefault     TaskType = "default"
)

// BackoffPolicy controls retry pacing for remote-provider attempts.
type BackoffPolicy struct {
	Initial     time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
	JitterFrac  float64
}

// DefaultBackoffPolicy matches spec.md §4.4's router retry contract.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Initial: time.Second, Factor: 2, Cap: 30 * time.Second, MaxAttempts: 3, JitterFrac: 0.2}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	capped := time.Duration(d)
	if capped > p.Cap {
		capped = p.Cap
	}
	jitter := float64(capped) * p.JitterFrac
	offset := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(capped) + offset)
}

// Router dispatches calls to the provider configured for each task type,
// retrying remote failures with backoff and falling back to a local
// provider once remote retries are exhausted (spec.md §4.4).
type Router struct {
	providers map[string]Client
	taskType  map[TaskType]string
	fallback  Client
	backoff   BackoffPolicy
	log       telemetry.Logger
}

// Config selects, per task type, which registered provider name handles it.
type Config struct {
	Providers           map[string]Client
	TaskTypeProvider    map[TaskType]string
	LocalFallback       Client
	EnableLocalFallback bool
	Backoff             BackoffPolicy
}

// NewRouter builds a Router from cfg. log may be nil.
func NewRouter(cfg Config, log telemetry.Logger) *Router {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	backoff := cfg.Backoff
	if backoff.MaxAttempts == 0 {
		backoff = DefaultBackoffPolicy()
	}
	var fallback Client
	if cfg.EnableLocalFallback {
		fallback = cfg.LocalFallback
	}
	return &Router{
		providers: cfg.Providers,
		taskType:  cfg.TaskTypeProvider,
		fallback:  fallback,
		backoff:   backoff,
		log:       log.With("component", "llmrouter"),
	}
}

func (r *Router) providerFor(task TaskType) (Client, bool) {
	name, ok := r.taskType[task]
	if !ok {
		name, ok = r.taskType[TaskDefault]
	}
	if !ok {
		return nil, false
	}
	client, ok := r.providers[name]
	return client, ok
}

type callFn func(ctx context.Context, c Client) (Response, error)

// dispatch runs call against the task type's primary provider, retrying
// per r.backoff on Timeout/RateLimit/Transient, then falling back to the
// local provider once if configured (spec.md §4.4).
func (r *Router) dispatch(ctx context.Context, task TaskType, traceID string, call callFn) (Response, error) {
	primary, ok := r.providerFor(task)
	if !ok {
		return Response{}, &AdapterError{Kind: ErrInvalidRequest, Provider: "router", Err: errNoProvider(task)}
	}

	var lastErr error
	for attempt := 0; attempt < r.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff.delay(attempt - 1)):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
		start := time.Now()
		resp, err := call(ctx, primary)
		latency := time.Since(start)
		if err == nil {
			r.log.Info("llm call succeeded", "trace_id", traceID, "provider", primary.Name(), "model", resp.Model, "latency_ms", latency.Milliseconds(), "attempt", attempt+1)
			return resp, nil
		}
		lastErr = err
		r.log.Warn("llm call failed", "trace_id", traceID, "provider", primary.Name(), "latency_ms", latency.Milliseconds(), "attempt", attempt+1, "error", err.Error())
		if !Retryable(err) {
			return Response{}, err
		}
	}

	if r.fallback != nil {
		start := time.Now()
		resp, err := call(ctx, r.fallback)
		latency := time.Since(start)
		if err == nil {
			r.log.Info("llm call succeeded via local fallback", "trace_id", traceID, "provider", r.fallback.Name(), "latency_ms", latency.Milliseconds())
			return resp, nil
		}
		r.log.Error("local fallback also failed", "trace_id", traceID, "provider", r.fallback.Name(), "error", err.Error())
		return Response{}, err
	}
	return Response{}, lastErr
}

// Chat dispatches a chat call for task, selecting the configured provider
// and applying retry/fallback policy.
func (r *Router) Chat(ctx context.Context, task TaskType, traceID string, messages []Message, opts CallOptions) (Response, error) {
	return r.dispatch(ctx, task, traceID, func(ctx context.Context, c Client) (Response, error) {
		return c.Chat(ctx, messages, opts)
	})
}

// ToolCall dispatches a native function-calling request for task.
func (r *Router) ToolCall(ctx context.Context, task TaskType, traceID string, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	return r.dispatch(ctx, task, traceID, func(ctx context.Context, c Client) (Response, error) {
		return c.ToolCall(ctx, messages, tools, opts)
	})
}

// Generate dispatches a single-turn convenience call for task.
func (r *Router) Generate(ctx context.Context, task TaskType, traceID string, prompt string, opts CallOptions) (Response, error) {
	return r.dispatch(ctx, task, traceID, func(ctx context.Context, c Client) (Response, error) {
		return c.Generate(ctx, prompt, opts)
	})
}

type noProviderError struct{ task TaskType }

func (e noProviderError) Error() string { return "no provider configured for task type " + string(e.task) }

func errNoProvider(task TaskType) error { return noProviderError{task: task} }
