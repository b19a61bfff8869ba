package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterValidatesJobs(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	if err := s.Register(Job{Name: "hygiene", Spec: "0 3 * * *", Run: noop}); err == nil {
		t.Error("five-field spec accepted")
	}
	if err := s.Register(Job{Name: "hygiene", Spec: "0 0 3 * * *", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Job{Name: "hygiene", Spec: "0 0 4 * * *", Run: noop}); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := s.Register(Job{Name: "empty", Spec: "0 0 4 * * *"}); err == nil {
		t.Error("job without run func accepted")
	}
}

func TestExclusiveSkipsWhenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "hygiene.lock")
	held := NewFileLock(path)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	ran := false
	if err := Exclusive(path, func() error { ran = true; return nil }); !errors.Is(err, ErrLocked) {
		t.Fatalf("Exclusive = %v, want ErrLocked", err)
	}
	if ran {
		t.Fatal("fn ran while lock was held")
	}

	if err := held.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := Exclusive(path, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("Exclusive after unlock = %v, ran=%v", err, ran)
	}
}

func TestRunNowSkipsOverlappingRun(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.Register(Job{
		Name: "slow",
		Spec: "0 0 3 * * *",
		Run: func(context.Context) error {
			runs.Add(1)
			close(started)
			<-release
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	if err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Fatalf("overlapping RunNow = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunNow = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	s := New()
	if err := s.Register(Job{
		Name:    "stuck",
		Spec:    "0 0 3 * * *",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "stuck"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunNow = %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("unknown job accepted")
	}
}

func TestRunFiresScheduledJobs(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 10)
	if err := s.Register(Job{
		Name:     "tick",
		Spec:     "* * * * * *",
		LockPath: filepath.Join(t.TempDir(), "tick.lock"),
		Run: func(context.Context) error {
			fired <- struct{}{}
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	if s.Next("tick").IsZero() {
		t.Error("next run unknown while running")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}
