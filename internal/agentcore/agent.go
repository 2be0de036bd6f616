// Package agentcore implements the agent execution core: render a prompt,
// call the model, parse the structured response, optionally run the
// generated code with iterative auto-debugging, and rephrase the raw
// answer into a conversational one.
package agentcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nodalflow/voxplane/internal/agentcore/parse"
	"github.com/nodalflow/voxplane/internal/agentcore/sandbox"
	"github.com/nodalflow/voxplane/internal/observability"
	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// CapabilityRecord is the declarative description of one agent family.
// Variant behavior (code-producing vs pure-text, terse vs rephrasing
// formatter) hangs off this record rather than off subtypes.
type CapabilityRecord struct {
	RoutingCommand  string
	LLMSpecID       string
	TemplatePath    string
	Topic           string
	ExpectedFields  []string
	FormatterMode   string // "rephrase" | "terse" | "" (no formatting pass)
	Cacheable       bool
	ProducesCode    bool
	SupportsRestore bool
	ParseStrategy   string // "baseline" | "structured" | "hybrid"
	ResponseSchema  []byte // optional JSON schema for structured/hybrid parsing
}

// LLMProvider is the narrow completion contract agents call through. Real
// implementations wrap the Anthropic and OpenAI SDKs;
// tests supply a stub.
type LLMProvider interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// CodeRunner executes generated code; sandbox.Runner satisfies it.
type CodeRunner interface {
	Run(ctx context.Context, code string, timeout time.Duration) (*sandbox.Result, error)
}

// PromptTemplates resolves a capability's template path plus a question
// into a fully rendered prompt. The composition root supplies the concrete
// loader (file-backed or embedded).
type PromptTemplates interface {
	Render(templatePath, question string) (string, error)
}

// Agent runs one capability family end to end.
type Agent struct {
	Capability CapabilityRecord
	LLM        LLMProvider
	Runner     CodeRunner
	Parser     parse.Strategy
	Templates  PromptTemplates

	DebugMinimalistModels []string
	DebugFullModels       []string
	MaxAttemptsPerModel   int
	SandboxTimeout        time.Duration

	// Tracer is optional; nil produces non-recording spans.
	Tracer *observability.Tracer
}

// runState is the transient working set for one invocation, kept off the
// Job so jobs stay plain data.
type runState struct {
	prompt    string
	raw       string
	fields    map[string]string
	stdout    string
	stderr    string
	succeeded bool
}

// RunPrompt executes the capability's prompt against the configured LLM and
// parses the response into the expected field set.
func (a *Agent) RunPrompt(ctx context.Context, question string) (*runState, error) {
	prompt := question
	if a.Templates != nil && a.Capability.TemplatePath != "" {
		rendered, err := a.Templates.Render(a.Capability.TemplatePath, question)
		if err != nil {
			return nil, voxerr.Wrap(voxerr.Transient, "render prompt template", err)
		}
		prompt = rendered
	}

	raw, err := a.LLM.Complete(ctx, a.Capability.LLMSpecID, prompt)
	if err != nil {
		return nil, voxerr.Wrap(voxerr.Transient, "llm completion", err)
	}

	fields, err := a.Parser.Parse(raw, parse.ResponseSchema{
		Name:           a.Capability.Topic,
		ExpectedFields: a.Capability.ExpectedFields,
		JSONSchema:     a.Capability.ResponseSchema,
	})
	if err != nil {
		return nil, voxerr.Wrap(voxerr.ParseFailed, "parse llm response", err)
	}

	return &runState{prompt: prompt, raw: raw, fields: fields}, nil
}

// RunCode executes the generated code field, running the auto-debug loop on
// failure when autoDebug is true.
func (a *Agent) RunCode(ctx context.Context, st *runState, autoDebug bool) (err error) {
	code, ok := st.fields["code"]
	if !ok || strings.TrimSpace(code) == "" {
		return nil
	}

	ctx, span := a.Tracer.Start(ctx, "agent.run_code",
		attribute.Bool("auto_debug", autoDebug),
	)
	defer func() { observability.End(span, err) }()

	timeout := a.SandboxTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	result, err := a.Runner.Run(ctx, code, timeout)
	if err != nil {
		return voxerr.Wrap(voxerr.Transient, "execute generated code", err)
	}
	if result.Succeeded() {
		st.stdout, st.succeeded = result.Stdout, true
		return nil
	}
	st.stderr = result.Stderr

	if !autoDebug {
		return voxerr.New(voxerr.Transient, "generated code failed: "+result.Stderr)
	}
	return a.debugLoop(ctx, st, timeout)
}

// RunFormatter rephrases the raw answer conversationally according to the
// capability's formatter mode. Terse-mode capabilities (and ones with no
// formatter mode at all) return the raw answer verbatim.
func (a *Agent) RunFormatter(ctx context.Context, question, rawAnswer string) (string, error) {
	if a.Capability.FormatterMode == "" || a.Capability.FormatterMode == "terse" {
		return rawAnswer, nil
	}
	prompt := fmt.Sprintf("Rephrase the following answer to %q in a natural, conversational voice. Answer: %s",
		question, rawAnswer)
	out, err := a.LLM.Complete(ctx, a.Capability.LLMSpecID, prompt)
	if err != nil {
		return rawAnswer, voxerr.Wrap(voxerr.Transient, "run formatter", err)
	}
	return strings.TrimSpace(out), nil
}

// DoAll runs prompt, code (when applicable), and formatter in sequence and
// writes the result onto job. It satisfies queue.AgentRunner.
func (a *Agent) DoAll(ctx context.Context, job *voxmodels.Job) (err error) {
	ctx, span := a.Tracer.Start(ctx, "agent.do_all",
		attribute.String("routing_command", a.Capability.RoutingCommand),
		attribute.String("job_id", job.IDHash),
	)
	defer func() { observability.End(span, err) }()

	st, err := a.RunPrompt(ctx, job.LastQuestionAsked)
	if err != nil {
		return err
	}
	job.Prompt = st.prompt
	job.Answer = st.fields["answer"]

	if a.Capability.ProducesCode {
		if err := a.RunCode(ctx, st, true); err != nil {
			return err
		}
		if st.succeeded {
			job.Answer = strings.TrimSpace(st.stdout)
		}
		if code, ok := st.fields["code"]; ok {
			job.Code = strings.Split(code, "\n")
		}
		job.CodeExample = st.fields["example"]
		if returns, ok := st.fields["returns"]; ok {
			job.CodeReturns = voxmodels.CodeReturns(returns)
		}
	}

	conv, err := a.RunFormatter(ctx, job.Question, job.Answer)
	if err != nil {
		job.AnswerConversational = job.Answer
		return nil
	}
	job.AnswerConversational = conv
	return nil
}
