package llmrouter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a token-bucket pace limit, so one
// noisy provider cannot exceed its own quota regardless of how many agent
// requests are in flight concurrently.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with a limiter allowing ratePerSecond
// requests/second and bursts up to burst.
func NewRateLimitedClient(inner Client, ratePerSecond float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (c *RateLimitedClient) Name() string { return c.inner.Name() }

func (c *RateLimitedClient) Chat(ctx context.Context, messages []Message, opts CallOptions) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return c.inner.Chat(ctx, messages, opts)
}

func (c *RateLimitedClient) ToolCall(ctx context.Context, messages []Message, tools []Tool, opts CallOptions) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return c.inner.ToolCall(ctx, messages, tools, opts)
}

func (c *RateLimitedClient) Generate(ctx context.Context, prompt string, opts CallOptions) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return c.inner.Generate(ctx, prompt, opts)
}
