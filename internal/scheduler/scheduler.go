// Package scheduler runs periodic jobs on cron schedules with a seconds
// field. A file lock keeps a job from running in two processes at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/duckmemory/duckmem/internal/metrics"
)

// ErrLocked is returned when another process holds a job's lock.
var ErrLocked = errors.New("job lock held by another process")

// Job is a unit of scheduled work.
type Job struct {
	Name     string
	Spec     string // six-field cron expression, e.g. "0 0 3 * * *"
	LockPath string // empty runs without a file lock
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type entry struct {
	job     Job
	id      rcron.EntryID
	running atomic.Bool
}

// Scheduler owns a cron runner and its jobs.
type Scheduler struct {
	cron *rcron.Cron

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	running sync.WaitGroup
}

// New creates an idle Scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: rcron.New(rcron.WithSeconds()),
		jobs: make(map[string]*entry),
		ctx:  context.Background(),
	}
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	e.id = id
	s.jobs[job.Name] = e
	slog.Info("Scheduler job registered", "name", job.Name, "schedule", job.Spec)
	return nil
}

// Next returns the next run time of the named job, or zero before Run.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// Run starts the cron runner and blocks until ctx is cancelled. Running jobs
// see the cancellation and are waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Scheduler started", "jobs", n)
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.running.Wait()
	slog.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.running.Add(1)
	defer s.running.Done()
	_ = s.runEntry(ctx, e)
}

// RunNow runs the named job immediately under the same overlap and lock rules.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.runEntry(ctx, e)
}

func (s *Scheduler) runEntry(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		slog.Warn("Scheduled job skipped: previous run still active", "job", e.job.Name)
		metrics.ScheduledRuns.WithLabelValues(e.job.Name, "overlap").Inc()
		return nil
	}
	defer e.running.Store(false)

	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	slog.Info("Scheduled job started", "job", e.job.Name)
	err := Exclusive(e.job.LockPath, func() error { return e.job.Run(ctx) })
	switch {
	case errors.Is(err, ErrLocked):
		slog.Info("Scheduled job skipped: lock held by another process", "job", e.job.Name, "lock", e.job.LockPath)
		metrics.ScheduledRuns.WithLabelValues(e.job.Name, "locked").Inc()
	case err != nil:
		slog.Error("Scheduled job failed", "job", e.job.Name, "error", err, "elapsed", time.Since(start))
		metrics.ScheduledRuns.WithLabelValues(e.job.Name, "error").Inc()
	default:
		slog.Info("Scheduled job finished", "job", e.job.Name, "elapsed", time.Since(start))
		metrics.ScheduledRuns.WithLabelValues(e.job.Name, "ok").Inc()
	}
	return err
}

// Exclusive runs fn while holding the file lock at lockPath. It returns
// ErrLocked without running fn when the lock is taken. An empty path runs fn
// unguarded.
func Exclusive(lockPath string, fn func() error) error {
	if lockPath == "" {
		return fn()
	}
	lock := NewFileLock(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Lock release failed", "lock", lockPath, "error", err)
		}
	}()
	return fn()
}
