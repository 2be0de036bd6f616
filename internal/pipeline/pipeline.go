// Package pipeline implements the chained pipeline orchestrator: it runs
// two agents back-to-back, reports per-stage progress through the
// notification hub, and presents a single combined result with aggregate
// cost accounting.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nodalflow/voxplane/internal/observability"
	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// State is one node of the chained-pipeline state machine:
//
//	initialized → running_A → A_done → running_B → completed
//	                \→ cancelled     \→ cancelled
//	                \→ failed        \→ failed
type State string

const (
	StateInitialized State = "initialized"
	StateRunningA    State = "running_a"
	StateADone       State = "a_done"
	StateRunningB    State = "running_b"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Stage runs one half of the chained pipeline. The first stage sees a nil
// prior output; the second stage receives stage A's output so it can build
// on stage A's artifacts (e.g. "research report" feeding "podcast script").
type Stage interface {
	Name() string
	Run(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error)
}

// StageOutput is what one stage contributes to the combined Result.
type StageOutput struct {
	PrimaryArtifactPath string
	Artifacts           map[string]any
	CostUSD             float64
}

// Canceller reports whether the current job/pipeline has been asked to
// stop. A context deadline/cancel covers the synchronous half;
// Canceller covers the asynchronous "user cancelled job" signal that
// arrives out-of-band (e.g. via the scheduler's DeliverMessage or a notification).
type Canceller interface {
	Cancelled() bool
}

// cancelFunc adapts a plain function to Canceller.
type cancelFunc func() bool

func (f cancelFunc) Cancelled() bool { return f() }

// Noop is a Canceller that never cancels.
var Noop Canceller = cancelFunc(func() bool { return false })

// ProgressNotifier is the narrow slice of the notification hub the pipeline needs to report
// progress. notify.Hub satisfies this.
type ProgressNotifier interface {
	Notify(ctx context.Context, senderID, recipientID, message string, typ voxmodels.NotificationType, priority voxmodels.Priority, jobID *string) (string, error)
}

// Result is the combined, partial-completion-aware outcome of a run:
// per-stage artifact paths, per-stage and aggregate cost, wall
// clock duration, terminal state, and an error string when applicable.
type Result struct {
	State        State               `json:"state"`
	ArtifactA    string              `json:"artifact_a,omitempty"`
	ArtifactB    string              `json:"artifact_b,omitempty"`
	ArtifactsA   map[string]any      `json:"artifacts_a,omitempty"`
	ArtifactsB   map[string]any      `json:"artifacts_b,omitempty"`
	CostA        float64             `json:"cost_a"`
	CostB        float64             `json:"cost_b"`
	TotalCostUSD float64             `json:"total_cost_usd"`
	Duration     time.Duration       `json:"duration"`
	Error        string              `json:"error,omitempty"`
}

// ChainedPipeline sequences StageA then StageB over a single job, emitting
// progress notifications through ProgressNotifier and honoring
// cancellation between stages.
type ChainedPipeline struct {
	StageA, StageB Stage
	Notifier       ProgressNotifier

	// Tracer is optional; nil produces non-recording spans.
	Tracer *observability.Tracer

	mu    sync.Mutex
	state State
}

// New builds a ChainedPipeline in the initialized state.
func New(stageA, stageB Stage, notifier ProgressNotifier) *ChainedPipeline {
	return &ChainedPipeline{StageA: stageA, StageB: stageB, Notifier: notifier, state: StateInitialized}
}

// State returns the pipeline's current state, safe for concurrent reads
// (e.g. a status endpoint polling a long-running pipeline).
func (p *ChainedPipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ChainedPipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes the two-stage pipeline over job, reporting progress to
// recipientUserID via the notifier between stages. Cancellation is checked
// via both ctx and cancel before starting each stage and is final once a
// stage has returned.
func (p *ChainedPipeline) Run(ctx context.Context, job *voxmodels.Job, recipientUserID string, cancel Canceller) *Result {
	if cancel == nil {
		cancel = Noop
	}
	start := time.Now()
	result := &Result{State: StateInitialized}

	ctx, span := p.Tracer.Start(ctx, "pipeline.run",
		attribute.String("job_id", job.IDHash),
		attribute.String("stage_a", p.StageA.Name()),
		attribute.String("stage_b", p.StageB.Name()),
	)
	defer func() { span.SetAttributes(attribute.String("state", string(result.State))); observability.End(span, nil) }()

	p.setState(StateRunningA)
	result.State = StateRunningA
	p.notify(ctx, recipientUserID, job.IDHash, "Starting stage A", voxmodels.PriorityLow)

	if ctx.Err() != nil || cancel.Cancelled() {
		return p.finishCancelled(result, start, recipientUserID, job.IDHash)
	}

	outA, err := p.StageA.Run(ctx, job, nil)
	if err != nil {
		result.TotalCostUSD = costFromErr(err)
		return p.finishFailed(result, start, recipientUserID, job.IDHash, err)
	}
	if outA != nil {
		result.ArtifactA = outA.PrimaryArtifactPath
		result.ArtifactsA = outA.Artifacts
		result.CostA = outA.CostUSD
	}

	p.setState(StateADone)
	result.State = StateADone
	p.notify(ctx, recipientUserID, job.IDHash, "Stage A complete", voxmodels.PriorityLow)

	if ctx.Err() != nil || cancel.Cancelled() {
		result.TotalCostUSD = result.CostA
		return p.finishCancelled(result, start, recipientUserID, job.IDHash)
	}

	p.setState(StateRunningB)
	result.State = StateRunningB
	p.notify(ctx, recipientUserID, job.IDHash, "Starting stage B", voxmodels.PriorityLow)

	outB, err := p.StageB.Run(ctx, job, outA)
	if err != nil {
		result.TotalCostUSD = result.CostA + costFromErr(err)
		return p.finishFailed(result, start, recipientUserID, job.IDHash, err)
	}
	if outB != nil {
		result.ArtifactB = outB.PrimaryArtifactPath
		result.ArtifactsB = outB.Artifacts
		result.CostB = outB.CostUSD
	}

	result.TotalCostUSD = result.CostA + result.CostB
	result.Duration = time.Since(start)
	p.setState(StateCompleted)
	result.State = StateCompleted
	p.notify(ctx, recipientUserID, job.IDHash, "Pipeline complete", voxmodels.PriorityMedium)

	return result
}

// costFromErr extracts a reported cost from a BudgetExceeded error's
// metadata.
func costFromErr(err error) float64 {
	ve, ok := err.(*voxerr.Error)
	if !ok || ve.Metadata == nil {
		return 0
	}
	if v, ok := ve.Metadata["cost_usd"].(float64); ok {
		return v
	}
	return 0
}

func (p *ChainedPipeline) finishCancelled(result *Result, start time.Time, userID, jobID string) *Result {
	p.setState(StateCancelled)
	result.State = StateCancelled
	result.Duration = time.Since(start)
	p.notify(context.Background(), userID, jobID, "Pipeline cancelled", voxmodels.PriorityUrgent)
	return result
}

func (p *ChainedPipeline) finishFailed(result *Result, start time.Time, userID, jobID string, err error) *Result {
	p.setState(StateFailed)
	result.State = StateFailed
	result.Error = err.Error()
	result.Duration = time.Since(start)
	p.notify(context.Background(), userID, jobID, fmt.Sprintf("Pipeline failed: %v", err), voxmodels.PriorityUrgent)
	return result
}

func (p *ChainedPipeline) notify(ctx context.Context, userID, jobID, message string, priority voxmodels.Priority) {
	if p.Notifier == nil || userID == "" {
		return
	}
	id := jobID
	_, _ = p.Notifier.Notify(ctx, "pipeline", userID, message, voxmodels.NotifyProgress, priority, &id)
}
