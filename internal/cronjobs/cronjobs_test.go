package cronjobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddRejectsBadSchedule(t *testing.T) {
	r := New(nil)
	err := r.Add(Job{Name: "bad", Schedule: "not a cron expr", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestAddRejectsIncompleteJob(t *testing.T) {
	r := New(nil)
	if err := r.Add(Job{Schedule: "* * * * *"}); err == nil {
		t.Fatal("expected error for job without name/run")
	}
}

func TestRunnerFiresJob(t *testing.T) {
	r := New(nil)
	var fired atomic.Int64
	err := r.Add(Job{
		Name:     "tick",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			fired.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Start()
	defer r.Stop()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	r := New(nil)
	cancelled := make(chan struct{})
	var once sync.Once
	err := r.Add(Job{
		Name:     "watch-ctx",
		Schedule: "@every 10ms",
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				once.Do(func() { close(cancelled) })
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return errors.New("context never cancelled")
			}
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Start()
	// Give the job a chance to start waiting on the context, then stop.
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled by Stop")
	}
}
