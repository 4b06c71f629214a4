package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/ratelimit"
)

type fakeProvider struct {
	calls    int
	failures int
	err      error
	content  string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req Request) (Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return Response{}, f.err
	}
	return Response{Content: f.content, Model: req.Model}, nil
}

// CompleteStream delivers the content in two deltas.
func (f *fakeProvider) CompleteStream(_ context.Context, req Request, emit func(Chunk) error) (Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return Response{}, f.err
	}
	half := len(f.content) / 2
	for _, part := range []string{f.content[:half], f.content[half:]} {
		if part == "" {
			continue
		}
		if err := emit(Chunk{Content: part}); err != nil {
			return Response{}, err
		}
	}
	return Response{Content: f.content, Model: req.Model}, nil
}

// fakeLimiter denies the first deny calls and records every key it sees.
type fakeLimiter struct {
	keys []string
	deny int
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (ratelimit.Result, error) {
	f.keys = append(f.keys, key)
	if f.deny > 0 {
		f.deny--
		return ratelimit.Result{Allowed: false, RetryAfter: time.Millisecond}, nil
	}
	return ratelimit.Result{Allowed: true, Remaining: 1}, nil
}

func testConfig() config.Config {
	return config.Config{
		LLMContextWindow:        1000,
		LLMMaxRetries:           2,
		LLMRetryBaseDelay:       time.Millisecond,
		LLMCacheTTL:             time.Minute,
		BreakerFailureThreshold: 3,
		BreakerRecoveryTimeout:  50 * time.Millisecond,
		BreakerSuccessThreshold: 1,
	}
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestCompleteRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{failures: 2, err: &StatusError{Code: 503}, content: "ok"}
	c := NewClient(p, testConfig(), nil, nil, testLogger())

	resp, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q", resp.Content)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", p.calls)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	p := &fakeProvider{failures: 10, err: &StatusError{Code: 400, Body: "bad request"}}
	c := NewClient(p, testConfig(), nil, nil, testLogger())

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("client error should not retry, got %d calls", p.calls)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.LLMMaxRetries = 0
	p := &fakeProvider{failures: 100, err: &StatusError{Code: 500}}
	c := NewClient(p, cfg, nil, nil, testLogger())

	req := Request{Messages: []Message{{Role: "user", Content: "hi"}}}
	for i := 0; i < 3; i++ {
		if _, err := c.Complete(context.Background(), req); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}

	_, err := c.Complete(context.Background(), req)
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if open.RetryIn <= 0 {
		t.Fatal("RetryIn should be positive")
	}

	// After the recovery timeout a probe goes through and closes the breaker.
	time.Sleep(60 * time.Millisecond)
	p.failures = 0
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("probe after recovery: %v", err)
	}
}

func TestCachedResponsesSkipProvider(t *testing.T) {
	p := &fakeProvider{content: "answer"}
	responses := cache.New(nil, time.Minute, testLogger())
	c := NewClient(p, testConfig(), responses, nil, testLogger())

	req := Request{Messages: []Message{{Role: "user", Content: "what"}}}
	first, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if first.Cached {
		t.Fatal("first response should not be cached")
	}

	second, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !second.Cached {
		t.Fatal("second response should come from cache")
	}
	if p.calls != 1 {
		t.Fatalf("provider should be called once, got %d", p.calls)
	}
}

func TestPromptBudgetGuard(t *testing.T) {
	p := &fakeProvider{content: "ok"}
	c := NewClient(p, testConfig(), nil, nil, testLogger())

	big := strings.Repeat("x", 10000)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: big}}})
	if !errors.Is(err, ErrPromptTooLarge) {
		t.Fatalf("expected ErrPromptTooLarge, got %v", err)
	}
	if p.calls != 0 {
		t.Fatal("oversized prompt should never reach the provider")
	}
}

func TestFallbackModel(t *testing.T) {
	cfg := testConfig()
	cfg.LLMMaxRetries = 0
	cfg.LLMFallbackEnabled = true
	cfg.LLMFallbackModel = "small-model"
	p := &fakeProvider{failures: 1, err: &StatusError{Code: 500}, content: "from fallback"}
	c := NewClient(p, cfg, nil, nil, testLogger())

	resp, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Model != "small-model" {
		t.Fatalf("expected fallback model, got %q", resp.Model)
	}
}

func TestLimiterGatesProviderCalls(t *testing.T) {
	p := &fakeProvider{content: "ok"}
	lim := &fakeLimiter{deny: 2}
	c := NewClient(p, testConfig(), nil, lim, testLogger())

	_, err := c.Complete(context.Background(), Request{Model: "big", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider should be called once, got %d", p.calls)
	}
	// Two denials plus the admitting check.
	if len(lim.keys) != 3 {
		t.Fatalf("limiter should be consulted 3 times, got %d", len(lim.keys))
	}
	if lim.keys[0] != "llm:fake:big" {
		t.Fatalf("limiter key = %q", lim.keys[0])
	}
}

func TestLimiterCancelledWhileWaiting(t *testing.T) {
	p := &fakeProvider{content: "ok"}
	lim := &fakeLimiter{deny: 1000}
	c := NewClient(p, testConfig(), nil, lim, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if p.calls != 0 {
		t.Fatal("provider should never be reached while throttled")
	}
}

func TestCompleteStreamDeliversDeltas(t *testing.T) {
	p := &fakeProvider{content: "hello world"}
	c := NewClient(p, testConfig(), nil, nil, testLogger())

	var got []string
	resp, err := c.CompleteStream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}},
		func(ch Chunk) error {
			got = append(got, ch.Content)
			return nil
		})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Content != "hello world" {
		t.Fatalf("aggregated content = %q", resp.Content)
	}
	if len(got) != 2 || got[0]+got[1] != "hello world" {
		t.Fatalf("deltas = %v", got)
	}
}

func TestCompleteStreamCountsTowardBreaker(t *testing.T) {
	cfg := testConfig()
	p := &fakeProvider{failures: 100, err: &StatusError{Code: 500}}
	c := NewClient(p, cfg, nil, nil, testLogger())

	req := Request{Messages: []Message{{Role: "user", Content: "hi"}}}
	for i := 0; i < 3; i++ {
		if _, err := c.CompleteStream(context.Background(), req, func(Chunk) error { return nil }); err == nil {
			t.Fatalf("stream %d should fail", i)
		}
	}
	var open *CircuitOpenError
	_, err := c.CompleteStream(context.Background(), req, func(Chunk) error { return nil })
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
}

func TestPromptVersionSplitsCache(t *testing.T) {
	p := &fakeProvider{content: "answer"}
	responses := cache.New(nil, time.Minute, testLogger())
	c := NewClient(p, testConfig(), responses, nil, testLogger())

	req := Request{Messages: []Message{{Role: "user", Content: "what"}}, PromptVersion: "v1"}
	if _, err := c.Complete(context.Background(), req); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A new template revision must miss the old cache entry.
	req.PromptVersion = "v2"
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Cached {
		t.Fatal("bumped prompt version should bypass the cache")
	}
	if p.calls != 2 {
		t.Fatalf("provider should be called twice, got %d", p.calls)
	}
}
