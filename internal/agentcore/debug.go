package agentcore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/nodalflow/voxplane/internal/agentcore/parse"
	"github.com/nodalflow/voxplane/internal/voxerr"
)

// debugLoop is the iterative auto-debug sequence: the minimalist pass
// runs first over DebugMinimalistModels, then the full pass over
// DebugFullModels. Both passes send the same prompt (original request,
// current code, latest error output) and differ only in the instruction:
// smallest possible change versus rewrite. Earlier failed attempts are not
// included in the prompt. Each pass iterates its configured model list;
// exhausting both passes across every model returns the distinct
// CodeGenerationFailed kind.
func (a *Agent) debugLoop(ctx context.Context, st *runState, timeout time.Duration) error {
	maxAttempts := a.MaxAttemptsPerModel
	if maxAttempts <= 0 {
		maxAttempts = 2
	}

	var attemptErrs *multierror.Error
	lastErr := fmt.Errorf("code failed: %s", st.stderr)

	for _, pass := range []struct {
		minimalist bool
		models     []string
	}{
		{true, a.DebugMinimalistModels},
		{false, a.DebugFullModels},
	} {
		for _, model := range pass.models {
			fixed, ok, err := a.tryDebugModel(ctx, st, model, pass.minimalist, maxAttempts, timeout)
			if err != nil {
				attemptErrs = multierror.Append(attemptErrs, fmt.Errorf("model %s (minimalist=%v): %w", model, pass.minimalist, err))
				continue
			}
			if ok {
				st.fields["code"] = fixed.fields["code"]
				st.stdout = fixed.stdout
				st.succeeded = true
				return nil
			}
			lastErr = fmt.Errorf("model %s (minimalist=%v) did not produce working code", model, pass.minimalist)
		}
	}

	if attemptErrs != nil {
		lastErr = fmt.Errorf("%w (and %d debug attempt error(s): %v)", lastErr, attemptErrs.Len(), attemptErrs)
	}
	return voxerr.CodeGenFailed(lastErr.Error())
}

// tryDebugModel asks one model to repair the failing code, retrying up to
// maxAttempts times with exponential backoff between attempts for
// transient completion failures.
func (a *Agent) tryDebugModel(ctx context.Context, st *runState, model string, minimalist bool, maxAttempts int, timeout time.Duration) (*runState, bool, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		prompt := debugPrompt(st.prompt, st.fields["code"], st.stderr, minimalist)
		raw, err := a.LLM.Complete(ctx, model, prompt)
		if err != nil {
			lastErr = err
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			continue
		}

		fields, err := a.Parser.Parse(raw, parse.ResponseSchema{Name: a.Capability.Topic + ".debug", ExpectedFields: []string{"code"}})
		if err != nil {
			lastErr = err
			continue
		}

		result, err := a.Runner.Run(ctx, fields["code"], timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if result.Succeeded() {
			return &runState{fields: fields, stdout: result.Stdout}, true, nil
		}
		st.stderr = result.Stderr
	}
	return nil, false, lastErr
}

func debugPrompt(originalPrompt, brokenCode, errorOutput string, minimalist bool) string {
	mode := "Make the smallest possible change to fix the error."
	if !minimalist {
		mode = "Rewrite the code from scratch to correctly answer the original question if needed."
	}
	return fmt.Sprintf(
		"The following code failed.\n\nOriginal request: %s\n\nCode:\n%s\n\nError:\n%s\n\n%s Return corrected code wrapped in <code></code>.",
		originalPrompt, brokenCode, errorOutput, mode,
	)
}
