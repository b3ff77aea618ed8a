package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := New(nil, 2)
	defer b.Close()

	var got Event
	var mu sync.Mutex
	unsub := b.Subscribe(TypeTaskEnterDoing, func(_ context.Context, ev Event) error {
		mu.Lock()
		got = ev
		mu.Unlock()
		return nil
	})
	defer unsub()

	ev, err := NewEvent("test", "ext-1", TypeTaskEnterDoing, map[string]any{"task_id": "task-1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, ev.EventID, got.EventID)
}

func TestPublishPrefixPatternMatch(t *testing.T) {
	b := New(nil, 2)
	defer b.Close()

	count := 0
	var mu sync.Mutex
	b.Subscribe("task.*", func(_ context.Context, ev Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	evDoing, _ := NewEvent("test", "a", TypeTaskEnterDoing, nil)
	evDone, _ := NewEvent("test", "b", TypeTaskEnterDone, nil)
	evOther, _ := NewEvent("test", "c", TypeSyncTick, nil)

	require.NoError(t, b.Publish(context.Background(), evDoing))
	require.NoError(t, b.Publish(context.Background(), evDone))
	require.NoError(t, b.Publish(context.Background(), evOther))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, count)
}

func TestPublishDuplicateIsDropped(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenIdempotencyStore(dir + "/idem.db")
	require.NoError(t, err)
	defer store.Close()

	b := New(nil, 1, WithIdempotencyStore(store))
	defer b.Close()

	calls := 0
	var mu sync.Mutex
	b.Subscribe(TypeEntityCreated, func(_ context.Context, ev Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ev, err := NewEvent("test", "same-external-id", TypeEntityCreated, map[string]any{"id": "note-1"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ev))
	require.NoError(t, b.Publish(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestPublishRetriesThenGivesUp(t *testing.T) {
	b := New(nil, 1)
	defer b.Close()

	var attempts int
	var mu sync.Mutex
	b.Subscribe(TypeSyncTick, func(_ context.Context, ev Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return assertError
	}, SubscribeOptions{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFrac: 0}})

	ev, err := NewEvent("test", "x", TypeSyncTick, nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, attempts)
}

func TestPublishAsyncDeliversEventually(t *testing.T) {
	b := New(nil, 2)
	defer b.Close()

	done := make(chan struct{})
	b.Subscribe(TypeInboxNormalized, func(_ context.Context, ev Event) error {
		close(done)
		return nil
	})

	ev, err := NewEvent("test", "async-1", TypeInboxNormalized, nil)
	require.NoError(t, err)
	require.NoError(t, b.PublishAsync(context.Background(), ev))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

var assertError = errFixture{}

type errFixture struct{}

func (errFixture) Error() string { return "handler failure fixture" }
