package pipeline

import (
	"context"
	"testing"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

type stageFunc struct {
	name string
	run  func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error)
}

func (s stageFunc) Name() string { return s.name }
func (s stageFunc) Run(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
	return s.run(ctx, job, prior)
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, senderID, recipientID, message string, typ voxmodels.NotificationType, priority voxmodels.Priority, jobID *string) (string, error) {
	r.messages = append(r.messages, message)
	return "note-" + recipientID, nil
}

type alwaysCancel struct{}

func (alwaysCancel) Cancelled() bool { return true }

func testJob() *voxmodels.Job {
	return &voxmodels.Job{IDHash: "job-1", UserID: "user-1", Question: "research and podcast"}
}

func TestChainedPipelineCompletesBothStages(t *testing.T) {
	stageA := stageFunc{name: "research", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return &StageOutput{PrimaryArtifactPath: "report.md", CostUSD: 1.5}, nil
	}}
	stageB := stageFunc{name: "podcast", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		if prior == nil || prior.PrimaryArtifactPath != "report.md" {
			t.Fatal("expected stage B to receive stage A's output")
		}
		return &StageOutput{PrimaryArtifactPath: "episode.mp3", CostUSD: 2.5}, nil
	}}
	notifier := &recordingNotifier{}
	p := New(stageA, stageB, notifier)

	result := p.Run(context.Background(), testJob(), "user-1", Noop)

	if result.State != StateCompleted {
		t.Fatalf("expected completed state, got %s", result.State)
	}
	if result.ArtifactA != "report.md" || result.ArtifactB != "episode.mp3" {
		t.Fatalf("expected both artifacts recorded, got %+v", result)
	}
	if result.TotalCostUSD != 4.0 {
		t.Fatalf("expected aggregate cost 4.0, got %f", result.TotalCostUSD)
	}
	if len(notifier.messages) == 0 {
		t.Fatal("expected progress notifications to be emitted")
	}
	if p.State() != StateCompleted {
		t.Fatalf("expected pipeline's own state to be completed, got %s", p.State())
	}
}

func TestChainedPipelinePartialCompletionOnStageBFailure(t *testing.T) {
	stageA := stageFunc{name: "research", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return &StageOutput{PrimaryArtifactPath: "report.md", CostUSD: 1.0}, nil
	}}
	stageB := stageFunc{name: "podcast", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return nil, voxerr.New(voxerr.BudgetExceeded, "podcast budget exceeded").WithMeta("cost_usd", 3.0)
	}}
	p := New(stageA, stageB, nil)

	result := p.Run(context.Background(), testJob(), "user-1", Noop)

	if result.State != StateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}
	if result.ArtifactA != "report.md" {
		t.Fatalf("expected stage A's artifact to remain in a partial result, got %+v", result)
	}
	if result.ArtifactB != "" {
		t.Fatalf("expected no stage B artifact, got %q", result.ArtifactB)
	}
	if result.TotalCostUSD != 4.0 {
		t.Fatalf("expected aggregate cost to include the reported budget-exceeded cost, got %f", result.TotalCostUSD)
	}
	if result.Error == "" {
		t.Fatal("expected an error string on the result")
	}
}

func TestChainedPipelineCancelledBeforeStageBDoesNotRunIt(t *testing.T) {
	stageBRan := false
	stageA := stageFunc{name: "research", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return &StageOutput{PrimaryArtifactPath: "report.md", CostUSD: 1.0}, nil
	}}
	stageB := stageFunc{name: "podcast", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		stageBRan = true
		return &StageOutput{PrimaryArtifactPath: "episode.mp3"}, nil
	}}
	p := New(stageA, stageB, nil)

	result := p.Run(context.Background(), testJob(), "user-1", alwaysCancel{})

	if result.State != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", result.State)
	}
	if stageBRan {
		t.Fatal("expected stage B to never run once cancellation was observed")
	}
	if result.ArtifactA != "report.md" {
		t.Fatal("expected stage A's partial artifact to remain recorded")
	}
}

func TestChainedPipelineCancelledContextStopsBeforeStageA(t *testing.T) {
	stageARan := false
	stageA := stageFunc{name: "research", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		stageARan = true
		return &StageOutput{}, nil
	}}
	stageB := stageFunc{name: "podcast", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return &StageOutput{}, nil
	}}
	p := New(stageA, stageB, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx, testJob(), "user-1", Noop)

	if result.State != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", result.State)
	}
	if stageARan {
		t.Fatal("expected stage A to never run when the context is already cancelled")
	}
}

func TestChainedPipelineStageAFailureSkipsStageB(t *testing.T) {
	stageBRan := false
	stageA := stageFunc{name: "research", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		return nil, voxerr.New(voxerr.Transient, "research provider unavailable")
	}}
	stageB := stageFunc{name: "podcast", run: func(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
		stageBRan = true
		return &StageOutput{}, nil
	}}
	p := New(stageA, stageB, nil)

	result := p.Run(context.Background(), testJob(), "user-1", Noop)

	if result.State != StateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}
	if stageBRan {
		t.Fatal("expected stage B to never run after stage A fails")
	}
	if result.TotalCostUSD != 0 {
		t.Fatalf("expected zero aggregate cost on stage A failure, got %f", result.TotalCostUSD)
	}
}

func TestNoopCancellerNeverCancels(t *testing.T) {
	if Noop.Cancelled() {
		t.Fatal("expected Noop to never report cancellation")
	}
}
