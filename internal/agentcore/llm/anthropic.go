// Package llm provides concrete agentcore.LLMProvider implementations
// over the Anthropic and OpenAI completion SDKs. Both return the fully
// assembled answer as a single string because agentcore.Agent only parses
// fields out of complete responses, never partial streams.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/nodalflow/voxplane/internal/voxerr"
)

// AnthropicProvider implements agentcore.LLMProvider against Claude models.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	DefaultModel string
}

// NewAnthropicProvider builds a provider over the Anthropic SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name identifies this provider for routing and logging.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends a single-turn completion request to Claude and returns the
// fully assembled text, retrying transient failures with exponential
// backoff.
func (p *AnthropicProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = p.defaultModel
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 8 * time.Second
	bo.MaxElapsedTime = 0

	var out string
	attempt := 0
	op := func() error {
		attempt++
		msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			if attempt > p.maxRetries || !isRetryableAnthropicErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = textFromAnthropicMessage(msg)
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", voxerr.Wrap(voxerr.Transient, fmt.Sprintf("anthropic completion (model %s)", model), err)
	}
	return out, nil
}

func textFromAnthropicMessage(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

func isRetryableAnthropicErr(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "deadline exceeded")
}
