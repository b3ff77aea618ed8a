package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleIntervalFiresRepeatedly(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var count int64
	err := s.ScheduleInterval(Job{
		ID: "tick",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	}, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(90 * time.Millisecond)
	require.GreaterOrEqual(t, atomic.LoadInt64(&count), int64(3))
}

func TestScheduleAtFiresOnce(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	done := make(chan struct{})
	err := s.ScheduleAt(Job{
		ID: "once",
		Fn: func(ctx context.Context) error {
			close(done)
			return nil
		},
	}, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
}

func TestScheduleIntervalReRegisterWithDifferentParamsReplacesPriorSchedule(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var firstCount, secondCount int64
	require.NoError(t, s.ScheduleInterval(Job{
		ID: "dup",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&firstCount, 1)
			return nil
		},
	}, 15*time.Millisecond))

	// Different interval: a genuinely new schedule, so the prior one is
	// cancelled rather than left running (spec.md §4.3 idempotency only
	// covers same-parameter re-registration).
	require.NoError(t, s.ScheduleInterval(Job{
		ID: "dup",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&secondCount, 1)
			return nil
		},
	}, 30*time.Millisecond))

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int64(0), atomic.LoadInt64(&firstCount), "prior schedule must be cancelled when parameters change")
	require.Greater(t, atomic.LoadInt64(&secondCount), int64(0))
}

func TestScheduleIntervalReRegisterWithSameParamsIsNoop(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var firstCount, secondCount int64
	require.NoError(t, s.ScheduleInterval(Job{
		ID: "same",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&firstCount, 1)
			return nil
		},
	}, 15*time.Millisecond))

	time.Sleep(20 * time.Millisecond)

	// Same ID, same interval/Missed/DriftBudget: spec.md §4.3 says this is
	// a no-op, so the original schedule (and its Fn) keeps running.
	require.NoError(t, s.ScheduleInterval(Job{
		ID: "same",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&secondCount, 1)
			return nil
		},
	}, 15*time.Millisecond))

	time.Sleep(60 * time.Millisecond)
	require.Greater(t, atomic.LoadInt64(&firstCount), int64(0), "original schedule must keep firing")
	require.Equal(t, int64(0), atomic.LoadInt64(&secondCount), "re-registration with identical params must not start a new schedule")
}

func TestCancelStopsFutureFirings(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var count int64
	require.NoError(t, s.ScheduleInterval(Job{
		ID: "cancel-me",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	}, 15*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	s.Cancel("cancel-me")
	after := atomic.LoadInt64(&count)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt64(&count))
}
