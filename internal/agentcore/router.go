package agentcore

import (
	"context"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Router dispatches a job to the Agent registered for its routing command.
// It satisfies queue.AgentRunner, keeping the queue scheduler free of any
// per-family knowledge.
type Router struct {
	agents  map[string]*Agent
	runners map[string]JobRunner
}

// JobRunner is the generic do-all contract for routing commands that are
// not backed by a single Agent, e.g. chained pipeline wrappers.
type JobRunner interface {
	DoAll(ctx context.Context, job *voxmodels.Job) error
}

// NewRouter builds a Router from a set of capability-bound agents, keyed by
// their own RoutingCommand.
func NewRouter(agents ...*Agent) *Router {
	r := &Router{
		agents:  make(map[string]*Agent, len(agents)),
		runners: make(map[string]JobRunner),
	}
	for _, a := range agents {
		r.agents[a.Capability.RoutingCommand] = a
	}
	return r
}

// RegisterRunner routes routingCommand to a generic runner instead of an
// Agent. Runner-backed commands skip the formatter pass (their answers are
// already final).
func (r *Router) RegisterRunner(routingCommand string, runner JobRunner) {
	r.runners[routingCommand] = runner
}

func (r *Router) resolve(routingCommand string) (*Agent, error) {
	a, ok := r.agents[routingCommand]
	if !ok {
		return nil, voxerr.New(voxerr.Validation, "no agent registered for routing command "+routingCommand)
	}
	return a, nil
}

// DoAll implements queue.AgentRunner.
func (r *Router) DoAll(ctx context.Context, job *voxmodels.Job) error {
	if runner, ok := r.runners[job.RoutingCommand]; ok {
		return runner.DoAll(ctx, job)
	}
	a, err := r.resolve(job.RoutingCommand)
	if err != nil {
		return err
	}
	return a.DoAll(ctx, job)
}

// Formatter implements queue.AgentRunner's cache-hit rephrasing path.
func (r *Router) Formatter(ctx context.Context, routingCommand, question, rawAnswer string) (string, error) {
	if _, ok := r.runners[routingCommand]; ok {
		return rawAnswer, nil
	}
	a, err := r.resolve(routingCommand)
	if err != nil {
		return rawAnswer, err
	}
	return a.RunFormatter(ctx, question, rawAnswer)
}
