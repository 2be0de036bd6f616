package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nodalflow/voxplane/internal/voxerr"
)

// OpenAIProvider implements agentcore.LLMProvider against the secondary
// model pool used for auto-debug escalation.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	defaultModel string
}

// NewOpenAIProvider builds a provider over the go-openai client.
func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai API key is required")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		maxRetries:   3,
		defaultModel: defaultModel,
	}, nil
}

// Name identifies this provider for routing and logging.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends a single-turn chat completion request and returns the
// assembled text, retrying transient failures with exponential backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
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
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			if attempt > p.maxRetries || !isRetryableOpenAIErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("openai: empty choices in response"))
		}
		out = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", voxerr.Wrap(voxerr.Transient, fmt.Sprintf("openai completion (model %s)", model), err)
	}
	return out, nil
}

func isRetryableOpenAIErr(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "deadline exceeded")
}
