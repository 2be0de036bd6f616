package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/nodalflow/voxplane/internal/textnorm"
)

type stubProvider struct {
	calls int
	err   error
	vec   []float32
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.vec, nil
}

func (p *stubProvider) Dimension() int { return len(p.vec) }

func TestEmbedCachesByNormalizedKey(t *testing.T) {
	provider := &stubProvider{vec: []float32{0.1, 0.2, 0.3}}
	mgr := New(provider, NewMemCache(), textnorm.ExpansionMaps{}, false, nil)

	vec1, err := mgr.Embed(context.Background(), "What is 2 plus 2?", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vec2, err := mgr.Embed(context.Background(), "what is 2 plus 2", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec1) != len(vec2) {
		t.Fatalf("expected equal-length vectors from equivalent phrasing")
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly one provider call (second served from cache), got %d", provider.calls)
	}
}

func TestEmbedWithoutNormalizationUsesExactTextAsKey(t *testing.T) {
	provider := &stubProvider{vec: []float32{0.5}}
	mgr := New(provider, NewMemCache(), textnorm.ExpansionMaps{}, false, nil)

	if _, err := mgr.Embed(context.Background(), "print(2+2)", false); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := mgr.Embed(context.Background(), "print(2 + 2)", false); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected two distinct provider calls for differing code text, got %d", provider.calls)
	}
}

func TestEmbedDegradesToEmptyVectorOnProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream 503")}
	mgr := New(provider, NewMemCache(), textnorm.ExpansionMaps{}, false, nil)

	vec, err := mgr.Embed(context.Background(), "what is the weather", true)
	if err != nil {
		t.Fatalf("expected Embed to swallow the provider error, got %v", err)
	}
	if len(vec) != 0 {
		t.Fatalf("expected empty vector on provider failure, got %v", vec)
	}
}

func TestEmbedEmptyTextReturnsNil(t *testing.T) {
	provider := &stubProvider{vec: []float32{1}}
	mgr := New(provider, NewMemCache(), textnorm.ExpansionMaps{}, false, nil)

	vec, err := mgr.Embed(context.Background(), "", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec != nil {
		t.Fatalf("expected nil vector for empty text, got %v", vec)
	}
	if provider.calls != 0 {
		t.Fatalf("expected no provider call for empty text")
	}
}
