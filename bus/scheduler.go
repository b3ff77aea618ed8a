package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/werserk/kira/telemetry"
)

// MissedRunPolicy controls what happens when the scheduler wakes up after
// having slept through one or more due fire times (e.g. process was
// suspended), per spec.md §4.3's scheduler contracts.
type MissedRunPolicy int

const (
	// Coalesce fires the job at most once for any number of missed runs.
	Coalesce MissedRunPolicy = iota
	// FireAll fires the job once per missed run, back to back.
	FireAll
)

// JobFunc is the unit of scheduled work. Job implementations should be
// idempotent, since Coalesce/FireAll and process restarts can both cause a
// job to be invoked more than once for logically the same scheduled run.
type JobFunc func(ctx context.Context) error

// Job describes one scheduled unit of work.
type Job struct {
	// ID is a stable, idempotent identifier: re-registering a job with the
	// same ID and the same parameters is a no-op; with different parameters
	// it replaces the prior schedule rather than creating a duplicate.
	ID       string
	Fn       JobFunc
	Missed   MissedRunPolicy
	// DriftBudget is the maximum wall-clock delay after a scheduled fire time
	// still considered "on time"; firings later than this are logged as
	// drifted but still executed.
	DriftBudget time.Duration
}

type scheduledEntry struct {
	job      Job
	cancel   context.CancelFunc
	nextFire time.Time

	// kind and the one param field it pairs with identify the scheduling
	// parameters a re-registration is compared against for idempotency
	// (spec.md §4.3 "re-registering an ID with the same parameters is a
	// no-op"). Job.Fn is a closure and deliberately excluded from the
	// comparison: two registrations of the same job with the same
	// schedule are the same logical registration regardless of closure
	// identity.
	kind     string
	interval time.Duration
	at       time.Time
	expr     string
}

func sameSchedule(e *scheduledEntry, job Job, kind string, interval time.Duration, at time.Time, expr string) bool {
	return e.kind == kind &&
		e.interval == interval &&
		e.at.Equal(at) &&
		e.expr == expr &&
		e.job.Missed == job.Missed &&
		e.job.DriftBudget == job.DriftBudget
}

// Scheduler runs interval, one-shot ("at"), and cron jobs with stable
// idempotent IDs and cooperative cancellation. Cron expressions are parsed
// and matched with robfig/cron/v3's Schedule type; interval and at-time
// firing use plain timers, since cron's Parser has no notion of "every N
// seconds starting now" or "once at time T".
type Scheduler struct {
	log telemetry.Logger

	mu      sync.Mutex
	entries map[string]*scheduledEntry
	parser  cron.Parser

	wg sync.WaitGroup
}

// NewScheduler constructs a Scheduler. log may be nil.
func NewScheduler(log telemetry.Logger) *Scheduler {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Scheduler{
		log:     log.With("component", "scheduler"),
		entries: make(map[string]*scheduledEntry),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ScheduleInterval runs job.Fn every interval, starting after the first
// interval elapses. Re-registering the same job.ID with the same parameters
// is a no-op; with different parameters it cancels the prior schedule first
// (idempotent registration, spec.md §4.3).
func (s *Scheduler) ScheduleInterval(job Job, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("bus: schedule_interval %s: interval must be positive", job.ID)
	}
	if s.isNoopReregistration(job.ID, job, "interval", interval, time.Time{}, "") {
		return nil
	}
	s.cancelExisting(job.ID)

	ctx, cancel := context.WithCancel(context.Background())
	entry := &scheduledEntry{job: job, cancel: cancel, nextFire: time.Now().Add(interval),
		kind: "interval", interval: interval}
	s.register(job.ID, entry)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case fire := <-t.C:
				s.runDue(ctx, job, fire, interval)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// ScheduleAt runs job.Fn exactly once at the given time. If at is already in
// the past, it fires immediately.
func (s *Scheduler) ScheduleAt(job Job, at time.Time) error {
	if s.isNoopReregistration(job.ID, job, "at", 0, at, "") {
		return nil
	}
	s.cancelExisting(job.ID)

	ctx, cancel := context.WithCancel(context.Background())
	entry := &scheduledEntry{job: job, cancel: cancel, nextFire: at, kind: "at", at: at}
	s.register(job.ID, entry)

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case fire := <-t.C:
			s.runJob(ctx, job, fire, at)
		case <-ctx.Done():
			return
		}
		s.remove(job.ID)
	}()
	return nil
}

// ScheduleCron runs job.Fn on every firing of the standard 5-field cron
// expression expr (minute hour dom month dow).
func (s *Scheduler) ScheduleCron(job Job, expr string) error {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("bus: schedule_cron %s: parse %q: %w", job.ID, expr, err)
	}
	if s.isNoopReregistration(job.ID, job, "cron", 0, time.Time{}, expr) {
		return nil
	}
	s.cancelExisting(job.ID)

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	entry := &scheduledEntry{job: job, cancel: cancel, nextFire: sched.Next(now), kind: "cron", expr: expr}
	s.register(job.ID, entry)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		next := sched.Next(now)
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case fire := <-t.C:
				scheduledFor := next
				missed := 0
				for n := sched.Next(next); !n.After(time.Now()); n = sched.Next(n) {
					missed++
					next = n
				}
				if missed > 0 && job.Missed == FireAll {
					for i := 0; i < missed; i++ {
						s.runJob(ctx, job, fire, scheduledFor)
					}
				}
				s.runJob(ctx, job, fire, scheduledFor)
				next = sched.Next(time.Now())
				s.mu.Lock()
				if e, ok := s.entries[job.ID]; ok {
					e.nextFire = next
				}
				s.mu.Unlock()
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}()
	return nil
}

// Cancel cooperatively stops job.ID's schedule. A job function already
// running is not interrupted; it is simply not re-fired.
func (s *Scheduler) Cancel(jobID string) {
	s.cancelExisting(jobID)
}

// Stop cancels every scheduled job and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, e := range s.entries {
		e.cancel()
	}
	s.entries = make(map[string]*scheduledEntry)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) register(id string, e *scheduledEntry) {
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// isNoopReregistration reports whether job.ID is already scheduled with the
// same kind and parameters, in which case the existing schedule is left
// running untouched (spec.md §4.3 idempotent re-registration).
func (s *Scheduler) isNoopReregistration(id string, job Job, kind string, interval time.Duration, at time.Time, expr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	return sameSchedule(e, job, kind, interval, at, expr)
}

func (s *Scheduler) cancelExisting(id string) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.cancel()
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) runDue(ctx context.Context, job Job, fireTime time.Time, interval time.Duration) {
	s.runJob(ctx, job, fireTime, fireTime)
}

// runJob invokes job.Fn once, logging drift against the job's DriftBudget
// and any execution error. scheduledFor is when the firing was supposed to
// happen; fireTime is when the timer actually delivered it.
func (s *Scheduler) runJob(ctx context.Context, job Job, fireTime, scheduledFor time.Time) {
	drift := fireTime.Sub(scheduledFor)
	if job.DriftBudget > 0 && drift > job.DriftBudget {
		s.log.Warn("job fired outside drift budget", "job_id", job.ID, "drift", drift.String(), "budget", job.DriftBudget.String())
	}
	if err := job.Fn(ctx); err != nil {
		s.log.Error("scheduled job failed", "job_id", job.ID, "error", err.Error())
	}
}
