package bus

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/werserk/kira/telemetry"
)

// HandlerFunc processes one delivered Event. An error triggers the bus's
// retry policy; exhaustion is logged and the event is dropped (at-least-once
// delivery, not exactly-once — spec.md §4.3).
type HandlerFunc func(ctx context.Context, ev Event) error

// RetryPolicy controls how a failing handler is retried before its delivery
// is abandoned.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterFrac  float64
}

// DefaultRetryPolicy matches spec.md §4.3's default handler retry contract.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, JitterFrac: 0.2}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := float64(d) * p.JitterFrac
	offset := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) + offset)
}

type subscription struct {
	id      int64
	pattern string
	handler HandlerFunc
	retry   RetryPolicy
}

// matches reports whether pattern matches topic name. A pattern matches
// exactly or as a dotted prefix followed by ".*" (e.g. "task.*" matches
// "task.enter_doing" but not "tasks.foo").
func (s subscription) matches(name string) bool {
	if s.pattern == name {
		return true
	}
	if strings.HasSuffix(s.pattern, ".*") {
		prefix := strings.TrimSuffix(s.pattern, "*")
		return strings.HasPrefix(name, prefix)
	}
	return false
}

// Bus is Kira's in-process event pub/sub. Publish delivers synchronously by
// default, invoking every matching handler in registration order and
// returning only once all have run (or exhausted retries); PublishAsync
// enqueues onto a bounded queue drained by a per-bus worker pool instead.
// Events leave the queue in FIFO order, but with more than one worker,
// events of the same topic can be delivered concurrently and out of order;
// there is no ordering guarantee per topic or across topics.
type Bus struct {
	log telemetry.Logger
	idem *IdempotencyStore

	mu        sync.RWMutex
	subs      []subscription
	nextSubID int64

	queue   chan queuedEvent
	wg      sync.WaitGroup
	closed  chan struct{}
	closeMu sync.Once
}

type queuedEvent struct {
	ev Event
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithIdempotencyStore attaches a store consulted before dispatch: events
// whose event_id has already been seen are deduplicated and not delivered.
func WithIdempotencyStore(s *IdempotencyStore) Option {
	return func(b *Bus) { b.idem = s }
}

// WithAsyncQueueSize overrides the bounded async-dispatch queue's capacity
// (default 256).
func WithAsyncQueueSize(n int) Option {
	return func(b *Bus) { b.queue = make(chan queuedEvent, n) }
}

// New constructs a Bus with workers async worker-pool goroutines draining
// the async publish queue.
func New(log telemetry.Logger, workers int, opts ...Option) *Bus {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if workers < 1 {
		workers = 1
	}
	b := &Bus{
		log:    log.With("component", "bus"),
		queue:  make(chan queuedEvent, 256),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Retry RetryPolicy
}

// Subscribe registers handler for events whose type matches pattern (exact
// name, or a "prefix.*" glob). The returned func cancels the subscription.
func (b *Bus) Subscribe(pattern string, handler HandlerFunc, opts ...SubscribeOptions) func() {
	retry := DefaultRetryPolicy()
	if len(opts) > 0 {
		retry = opts[0].Retry
	}
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler, retry: retry})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev synchronously to every matching subscriber, in
// registration order, and returns once all have completed. Returns the
// idempotency-check error, if any; per-handler errors are retried per their
// subscription's policy and logged on exhaustion, never returned, since one
// slow/broken consumer must not block publication for the others' sake or
// crash the publisher (spec.md §4.3 at-least-once semantics).
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if dup, err := b.checkDuplicate(ctx, ev); err != nil {
		return err
	} else if dup {
		b.log.Debug("duplicate event dropped", "event_id", ev.EventID, "type", ev.Type)
		return nil
	}

	for _, s := range b.matchingSubs(ev.Type) {
		b.deliver(ctx, s, ev)
	}
	return nil
}

// PublishAsync enqueues ev for asynchronous dispatch and returns immediately.
// Events are dequeued in FIFO order; delivery order is preserved only when
// the bus runs a single worker, since several workers deliver dequeued
// events (including same-topic ones) concurrently.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) error {
	if dup, err := b.checkDuplicate(ctx, ev); err != nil {
		return err
	} else if dup {
		return nil
	}
	select {
	case b.queue <- queuedEvent{ev: ev}:
		return nil
	case <-b.closed:
		return context.Canceled
	}
}

// Close stops accepting async events and waits for in-flight workers to
// drain the queue.
func (b *Bus) Close() {
	b.closeMu.Do(func() {
		close(b.closed)
		close(b.queue)
	})
	b.wg.Wait()
}

func (b *Bus) checkDuplicate(ctx context.Context, ev Event) (bool, error) {
	if b.idem == nil || ev.EventID == "" {
		return false, nil
	}
	return b.idem.CheckAndMark(ctx, ev.EventID)
}

func (b *Bus) matchingSubs(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(topic) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for qe := range b.queue {
		for _, s := range b.matchingSubs(qe.ev.Type) {
			b.deliver(context.Background(), s, qe.ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	var lastErr error
	attempts := s.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retry.delay(attempt - 1)):
			case <-ctx.Done():
				return
			}
		}
		if err := s.handler(ctx, ev); err != nil {
			lastErr = err
			b.log.Warn("handler failed", "event_id", ev.EventID, "type", ev.Type, "attempt", attempt+1, "error", err.Error())
			continue
		}
		return
	}
	b.log.Error("handler retries exhausted, dropping delivery", "event_id", ev.EventID, "type", ev.Type, "error", lastErr.Error())
}
