package pipeline

import (
	"context"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// AgentRunner is the slice of the agent core a stage drives.
type AgentRunner interface {
	DoAll(ctx context.Context, job *voxmodels.Job) error
}

// AgentStage adapts one agent family into a pipeline Stage. The stage
// rewrites the job's routing command for the duration of its run so the
// runner dispatches to the right family, then exposes the answer and
// artifacts as stage output.
type AgentStage struct {
	StageName      string
	RoutingCommand string
	Runner         AgentRunner

	// ArtifactKey names the job artifact holding this stage's primary
	// artifact path (e.g. "report_path", "audio_path").
	ArtifactKey string
}

func (s *AgentStage) Name() string { return s.StageName }

func (s *AgentStage) Run(ctx context.Context, job *voxmodels.Job, prior *StageOutput) (*StageOutput, error) {
	restore := job.RoutingCommand
	job.RoutingCommand = s.RoutingCommand
	defer func() { job.RoutingCommand = restore }()

	if err := s.Runner.DoAll(ctx, job); err != nil {
		return nil, err
	}

	out := &StageOutput{Artifacts: map[string]any{"answer": job.Answer}}
	if job.Artifacts != nil {
		if path, ok := job.Artifacts[s.ArtifactKey].(string); ok {
			out.PrimaryArtifactPath = path
		}
		for k, v := range job.Artifacts {
			out.Artifacts[k] = v
		}
	}
	if job.CostSummary != nil {
		out.CostUSD = job.CostSummary.TotalCostUSD
	}
	return out, nil
}

// JobRunner adapts a ChainedPipeline to the scheduler's agent contract:
// DoAll runs both stages over the job and records the combined Result in
// the job's artifacts and cost summary.
type JobRunner struct {
	Pipeline *ChainedPipeline
	Cancel   Canceller
}

func (r *JobRunner) DoAll(ctx context.Context, job *voxmodels.Job) error {
	result := r.Pipeline.Run(ctx, job, job.UserID, r.Cancel)

	if job.Artifacts == nil {
		job.Artifacts = make(map[string]any)
	}
	job.Artifacts["pipeline_state"] = string(result.State)
	if result.ArtifactA != "" {
		job.Artifacts["artifact_a"] = result.ArtifactA
	}
	if result.ArtifactB != "" {
		job.Artifacts["artifact_b"] = result.ArtifactB
	}
	job.CostSummary = &voxmodels.CostSummary{
		TotalCostUSD: result.TotalCostUSD,
		WallClock:    result.Duration,
	}

	switch result.State {
	case StateCompleted:
		return nil
	case StateCancelled:
		return voxerr.New(voxerr.Transient, "pipeline cancelled")
	default:
		msg := result.Error
		if msg == "" {
			msg = "pipeline failed"
		}
		return voxerr.New(voxerr.Transient, msg)
	}
}
