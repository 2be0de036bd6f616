package llm

import (
	"context"
	"strings"

	"github.com/nodalflow/voxplane/internal/voxerr"
)

// MultiProvider dispatches Complete calls to the named-model provider whose
// prefix matches, letting a single agentcore.Agent escalate from its
// primary Anthropic model to the secondary OpenAI pool during auto-debug
// without Agent itself knowing about more than one LLMProvider.
type MultiProvider struct {
	anthropic *AnthropicProvider
	openai    *OpenAIProvider
}

// NewMultiProvider builds a MultiProvider. Either provider may be nil if
// that backend isn't configured; Complete then fails only for models routed
// to the missing backend.
func NewMultiProvider(anthropicProvider *AnthropicProvider, openaiProvider *OpenAIProvider) *MultiProvider {
	return &MultiProvider{anthropic: anthropicProvider, openai: openaiProvider}
}

// Complete routes by model name: "claude-*" and "claude-*" variants go to
// Anthropic, "gpt-*"/"o1-*"/"o3-*" go to OpenAI.
func (m *MultiProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		if m.anthropic == nil {
			return "", voxerr.New(voxerr.Transient, "llm: no anthropic provider configured for model "+model)
		}
		return m.anthropic.Complete(ctx, model, prompt)
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		if m.openai == nil {
			return "", voxerr.New(voxerr.Transient, "llm: no openai provider configured for model "+model)
		}
		return m.openai.Complete(ctx, model, prompt)
	default:
		if m.anthropic != nil {
			return m.anthropic.Complete(ctx, model, prompt)
		}
		if m.openai != nil {
			return m.openai.Complete(ctx, model, prompt)
		}
		return "", voxerr.New(voxerr.Transient, "llm: no provider configured for model "+model)
	}
}
