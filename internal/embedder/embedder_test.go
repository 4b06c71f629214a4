package embedder

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
)

type fakeProvider struct {
	calls int
	texts []string
	dims  int
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Dimensions() int { return f.dims }

func (f *fakeProvider) Embed(_ context.Context, texts []string, _ InputType) ([][]float32, error) {
	f.calls++
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func serviceConfig() config.Config {
	return config.Config{
		EmbeddingBatchSize:      2,
		EmbeddingCacheTTL:       time.Minute,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  time.Second,
		BreakerSuccessThreshold: 1,
	}
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	p := &fakeProvider{dims: 2}
	s := NewService(p, serviceConfig(), nil, testLogger())

	texts := []string{"first text here", "second text here", "third text here"}
	vecs, err := s.Embed(context.Background(), texts, InputPassage)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	// Batch size 2 means two provider calls for three texts.
	if p.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.calls)
	}
	for i, v := range vecs {
		if v[0] != float32(len(texts[i])) {
			t.Fatalf("vector %d out of order", i)
		}
	}
}

func TestEmbedUsesCache(t *testing.T) {
	p := &fakeProvider{dims: 2}
	vectors := cache.New(nil, time.Minute, testLogger())
	s := NewService(p, serviceConfig(), vectors, testLogger())
	ctx := context.Background()

	if _, err := s.Embed(ctx, []string{"a cacheable sentence"}, InputPassage); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := s.Embed(ctx, []string{"a cacheable sentence"}, InputPassage); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("second call should hit cache, got %d provider calls", p.calls)
	}

	// Query and passage vectors cache separately.
	if _, err := s.Embed(ctx, []string{"a cacheable sentence"}, InputQuery); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("different input type should miss, got %d calls", p.calls)
	}
}

func TestShortTextsBypassCache(t *testing.T) {
	p := &fakeProvider{dims: 2}
	vectors := cache.New(nil, time.Minute, testLogger())
	s := NewService(p, serviceConfig(), vectors, testLogger())
	ctx := context.Background()

	s.Embed(ctx, []string{"go"}, InputPassage)
	s.Embed(ctx, []string{"go"}, InputPassage)
	if p.calls != 2 {
		t.Fatalf("short text should not be cached, got %d calls", p.calls)
	}
}

func TestNoopServiceDisabled(t *testing.T) {
	s := NewService(&Noop{}, serviceConfig(), nil, testLogger())
	if s.Enabled() {
		t.Fatal("noop service should report disabled")
	}
	if _, err := s.Embed(context.Background(), []string{"x"}, InputQuery); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestComposeDecisionTextWeighting(t *testing.T) {
	cfg := config.Config{
		WeightTitle:     1.5,
		WeightRationale: 1.0,
		WeightContext:   0.8,
		WeightTrigger:   0.8,
	}
	d := model.Decision{
		AgentDecision:  "use postgres",
		AgentRationale: "managed offering available",
		Context:        "greenfield service",
		Trigger:        "choosing a database",
	}
	text := ComposeDecisionText(d, cfg)

	if n := strings.Count(text, "use postgres"); n != 2 {
		t.Fatalf("decision statement should repeat twice at weight 1.5, got %d", n)
	}
	if n := strings.Count(text, "managed offering available"); n != 1 {
		t.Fatalf("rationale should appear once, got %d", n)
	}
	if !strings.Contains(text, "greenfield service") || !strings.Contains(text, "choosing a database") {
		t.Fatal("context and trigger should be present")
	}
}

func TestComposeDecisionTextSkipsEmptyFields(t *testing.T) {
	cfg := config.Config{WeightTitle: 1.5, WeightRationale: 1.0}
	d := model.Decision{AgentDecision: "use redis"}
	text := ComposeDecisionText(d, cfg)
	if strings.Contains(text, "\n\n") {
		t.Fatal("empty fields should not leave blank lines")
	}
}
