package llm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/ratelimit"
	"github.com/continuumhq/continuum/internal/telemetry"
)

// contextBudgetRatio is the share of the advertised context window a prompt
// may occupy, leaving headroom for the completion.
const contextBudgetRatio = 0.85

// Client wraps a Provider with caching, rate limiting, retries, a circuit
// breaker, and an optional fallback model. The layering is cache outside
// breaker so cached responses stay servable while the breaker is open; the
// limiter sits inside the retry loop so every provider call consumes a slot.
type Client struct {
	provider      Provider
	fallbackModel string
	useFallback   bool
	contextWindow int
	maxRetries    int
	baseDelay     time.Duration
	cacheTTL      time.Duration
	recovery      time.Duration

	breaker *gobreaker.CircuitBreaker
	cache   *cache.Cache
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewClient builds the resilient client from configuration. responses may be
// nil to disable response caching; limiter may be nil to disable provider
// throttling.
func NewClient(provider Provider, cfg config.Config, responses *cache.Cache, limiter ratelimit.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	return &Client{
		provider:      provider,
		fallbackModel: cfg.LLMFallbackModel,
		useFallback:   cfg.LLMFallbackEnabled && cfg.LLMFallbackModel != "",
		contextWindow: cfg.LLMContextWindow,
		maxRetries:    cfg.LLMMaxRetries,
		baseDelay:     cfg.LLMRetryBaseDelay,
		cacheTTL:      cfg.LLMCacheTTL,
		recovery:      cfg.BreakerRecoveryTimeout,
		breaker: newBreaker("llm", cfg.BreakerFailureThreshold,
			cfg.BreakerSuccessThreshold, cfg.BreakerRecoveryTimeout, logger),
		cache:   responses,
		limiter: limiter,
		logger:  logger,
	}
}

// Complete runs a chat completion through the resilience stack.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if c.provider == nil {
		return Response{}, ErrNoProvider
	}
	if err := c.checkBudget(req); err != nil {
		return Response{}, err
	}

	key := c.cacheKey(req)
	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var resp Response
			if jerr := json.Unmarshal([]byte(v), &resp); jerr == nil {
				resp.Cached = true
				telemetry.LLMCompletions().Add(ctx, 1, metric.WithAttributes(
					attribute.String("model", resp.Model),
					attribute.Bool("cached", true),
				))
				return resp, nil
			}
		}
	}

	resp, err := c.completeWithBreaker(ctx, req)
	if err != nil && c.useFallback && req.Model == "" {
		var open *CircuitOpenError
		if !errors.As(err, &open) {
			c.logger.Warn("llm: primary model failed, trying fallback",
				"fallback", c.fallbackModel, "error", err)
			fb := req
			fb.Model = c.fallbackModel
			resp, err = c.completeWithBreaker(ctx, fb)
		}
	}
	if err != nil {
		return Response{}, err
	}

	if c.cache != nil {
		if encoded, jerr := json.Marshal(resp); jerr == nil {
			c.cache.Set(ctx, key, string(encoded), c.cacheTTL)
		}
	}
	telemetry.LLMCompletions().Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", resp.Model),
		attribute.Bool("cached", false),
	))
	return resp, nil
}

// CompleteStream runs a streamed completion through the breaker and limiter.
// Streamed responses bypass the cache and the retry loop: deltas already
// handed to emit cannot be taken back.
func (c *Client) CompleteStream(ctx context.Context, req Request, emit func(Chunk) error) (Response, error) {
	if c.provider == nil {
		return Response{}, ErrNoProvider
	}
	if err := c.checkBudget(req); err != nil {
		return Response{}, err
	}

	out, err := c.breaker.Execute(func() (any, error) {
		if err := c.waitForSlot(ctx, req.Model); err != nil {
			return nil, err
		}
		return c.provider.CompleteStream(ctx, req, emit)
	})
	if err != nil {
		return Response{}, wrapBreakerErr(err, c.recovery)
	}
	resp := out.(Response)
	telemetry.LLMCompletions().Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", resp.Model),
		attribute.Bool("cached", false),
	))
	return resp, nil
}

func (c *Client) completeWithBreaker(ctx context.Context, req Request) (Response, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.completeWithRetry(ctx, req)
	})
	if err != nil {
		return Response{}, wrapBreakerErr(err, c.recovery)
	}
	return out.(Response), nil
}

func (c *Client) completeWithRetry(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
		if err := c.waitForSlot(ctx, req.Model); err != nil {
			return Response{}, err
		}
		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retriable(err) {
			break
		}
		c.logger.Debug("llm: retrying", "attempt", attempt+1, "error", err)
	}
	return Response{}, fmt.Errorf("llm: complete: %w", lastErr)
}

// checkBudget rejects prompts that would overflow the context window's usable
// share. Callers are expected to summarize oversized inputs before retrying.
func (c *Client) checkBudget(req Request) error {
	if c.contextWindow <= 0 {
		return nil
	}
	total := 0
	for _, m := range req.Messages {
		total += EstimateTokens(m.Content)
	}
	if float64(total) > float64(c.contextWindow)*contextBudgetRatio {
		return fmt.Errorf("%w: ~%d tokens against window %d", ErrPromptTooLarge, total, c.contextWindow)
	}
	return nil
}

// PromptBudget returns the usable prompt budget in tokens.
func (c *Client) PromptBudget() int {
	return int(float64(c.contextWindow) * contextBudgetRatio)
}

// waitForSlot blocks until the limiter admits a provider call for the model.
// Limiter errors fail open: a broken Redis must not take extraction down.
func (c *Client) waitForSlot(ctx context.Context, model string) error {
	key := "llm:" + c.provider.Name() + ":" + model
	for {
		res, err := c.limiter.Allow(ctx, key)
		if err != nil {
			c.logger.Warn("llm: limiter check failed, proceeding", "error", err)
			return nil
		}
		if res.Allowed {
			return nil
		}
		wait := res.RetryAfter
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) cacheKey(req Request) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%s|%.2f|", req.Model, req.PromptVersion, req.Temperature)
	for _, m := range req.Messages {
		fmt.Fprintf(h, "%s:%s|", m.Role, m.Content)
	}
	return "continuum:llm:" + hex.EncodeToString(h.Sum(nil))
}

func retriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Transport-level failures are worth another try.
	return true
}
