package llm

import (
	"context"
	"testing"

	"github.com/nodalflow/voxplane/internal/voxerr"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderAppliesDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.defaultModel != "claude-sonnet-4-20250514" {
		t.Fatalf("expected default model applied, got %q", p.defaultModel)
	}
	if p.maxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", p.maxRetries)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("expected name anthropic, got %q", p.Name())
	}
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIProvider("", ""); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewOpenAIProviderAppliesDefaultModel(t *testing.T) {
	p, err := NewOpenAIProvider("test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected name openai, got %q", p.Name())
	}
	if p.defaultModel != "gpt-4o" {
		t.Fatalf("expected default model gpt-4o, got %q", p.defaultModel)
	}
}

func TestMultiProviderRoutesByModelPrefix(t *testing.T) {
	anth, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	oa, err := NewOpenAIProvider("test-key", "")
	if err != nil {
		t.Fatalf("openai provider: %v", err)
	}

	m := NewMultiProvider(anth, nil)
	if _, err := m.Complete(context.Background(), "gpt-4o", "hi"); voxerr.KindOf(err) != voxerr.Transient {
		t.Fatalf("expected routing failure for missing openai backend, got %v", err)
	}

	m2 := NewMultiProvider(nil, oa)
	if _, err := m2.Complete(context.Background(), "claude-sonnet-4-20250514", "hi"); voxerr.KindOf(err) != voxerr.Transient {
		t.Fatalf("expected routing failure for missing anthropic backend, got %v", err)
	}

	m3 := NewMultiProvider(nil, nil)
	if _, err := m3.Complete(context.Background(), "unknown-model", "hi"); err == nil {
		t.Fatal("expected error when no provider is configured for an unrecognized model")
	}
}
