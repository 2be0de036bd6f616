package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunnerSucceedsOnCleanExit(t *testing.T) {
	r := NewRunner("python3", t.TempDir())
	result, err := r.Run(context.Background(), "print('hello from sandbox')", 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "hello from sandbox") {
		t.Fatalf("expected stdout to contain the printed line, got %q", result.Stdout)
	}
}

func TestRunnerCapturesNonZeroExit(t *testing.T) {
	r := NewRunner("python3", t.TempDir())
	result, err := r.Run(context.Background(), "raise SystemExit(3)", 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded() {
		t.Fatalf("expected failure for a non-zero exit")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestRunnerTimesOutOnLongRunningCode(t *testing.T) {
	r := NewRunner("python3", t.TempDir())
	result, err := r.Run(context.Background(), "import time\ntime.sleep(5)", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("expected a timeout, got %+v", result)
	}
	if result.Succeeded() {
		t.Fatalf("a timed-out run must not be reported as succeeded")
	}
}
