// Package cronjobs schedules recurring maintenance work on cron
// expressions, such as pruning aged terminal jobs out of the in-memory
// queues. It schedules no pipeline runs.
package cronjobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is one recurring unit of work. Run receives a background context;
// long jobs should honor its cancellation.
type Job struct {
	Name     string
	Schedule string // standard five-field cron expression
	Run      func(ctx context.Context) error
}

// Runner drives registered Jobs on their schedules. Panics inside a job
// are recovered and logged so a bad job cannot take down the process.
type Runner struct {
	c      *cron.Cron
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a stopped Runner. logger defaults to slog.Default() when nil.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	adapter := cronLogger{logger: logger}
	return &Runner{
		c:      cron.New(cron.WithChain(cron.Recover(adapter))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job. The schedule is validated immediately; a bad
// expression is a construction-time error, not a silent no-op.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("cronjobs: job needs a name and a run func")
	}
	_, err := r.c.AddFunc(job.Schedule, func() {
		if err := job.Run(r.ctx); err != nil {
			r.logger.Error("cron job failed", "job", job.Name, "error", err)
			return
		}
		r.logger.Debug("cron job complete", "job", job.Name)
	})
	if err != nil {
		return fmt.Errorf("cronjobs: add %s: %w", job.Name, err)
	}
	return nil
}

// Start begins scheduling in its own goroutine.
func (r *Runner) Start() { r.c.Start() }

// Stop cancels the shared job context and waits for running jobs to
// finish.
func (r *Runner) Stop() {
	r.cancel()
	<-r.c.Stop().Done()
}

// cronLogger adapts slog to the cron.Logger interface used by the recover
// chain.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
