// Package embedder turns decision and entity text into vectors. Providers
// implement the raw embedding call; Service adds caching, batching, and a
// circuit breaker on top.
package embedder

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/config"
)

// InputType distinguishes query-side from document-side embeddings for
// asymmetric models.
type InputType string

const (
	InputQuery   InputType = "query"
	InputPassage InputType = "passage"
)

// minCacheableLen is the shortest text worth caching. Below this the cache
// key churn outweighs the provider call saved.
const minCacheableLen = 10

// Provider computes embeddings for a batch of texts.
type Provider interface {
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)
	Dimensions() int
	Name() string
}

// ErrDisabled is returned by Service methods when the provider is the noop.
var ErrDisabled = errors.New("embedder: embeddings disabled")

// Service wraps a Provider with a Redis-backed vector cache, fixed-size
// batching, and a circuit breaker.
type Service struct {
	provider  Provider
	batchSize int
	cacheTTL  time.Duration
	cache     *cache.Cache
	breaker   *gobreaker.CircuitBreaker
	recovery  time.Duration
	logger    *slog.Logger
}

// NewService builds the embedding service. vectors may be nil to disable caching.
func NewService(provider Provider, cfg config.Config, vectors *cache.Cache, logger *slog.Logger) *Service {
	s := &Service{
		provider:  provider,
		batchSize: cfg.EmbeddingBatchSize,
		cacheTTL:  cfg.EmbeddingCacheTTL,
		cache:     vectors,
		recovery:  cfg.BreakerRecoveryTimeout,
		logger:    logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder",
		MaxRequests: uint32(cfg.BreakerSuccessThreshold),
		Timeout:     cfg.BreakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedder: breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Enabled reports whether real embeddings are available.
func (s *Service) Enabled() bool {
	_, noop := s.provider.(*Noop)
	return s.provider != nil && !noop
}

// Dimensions returns the provider's vector width.
func (s *Service) Dimensions() int { return s.provider.Dimensions() }

// EmbedOne embeds a single text.
func (s *Service) EmbedOne(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text}, inputType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed returns one vector per input text, preserving order. Cached vectors
// are served without touching the provider; the rest go out in batches.
func (s *Service) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	out := make([][]float32, len(texts))

	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := s.cached(ctx, t, inputType); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	for start := 0; start < len(missTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		result, err := s.breaker.Execute(func() (any, error) {
			return s.provider.Embed(ctx, batch, inputType)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("embedder: circuit open, retry in %s", s.recovery.Round(time.Second))
			}
			return nil, fmt.Errorf("embedder: embed batch: %w", err)
		}
		vecs := result.([][]float32)
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder: provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for j, v := range vecs {
			idx := missIdx[start+j]
			out[idx] = v
			s.store(ctx, texts[idx], inputType, v)
		}
	}
	return out, nil
}

func (s *Service) cached(ctx context.Context, text string, inputType InputType) ([]float32, bool) {
	if s.cache == nil || len(text) < minCacheableLen {
		return nil, false
	}
	v, ok, err := s.cache.Get(ctx, vectorKey(text, inputType))
	if err != nil || !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(v), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (s *Service) store(ctx context.Context, text string, inputType InputType, vec []float32) {
	if s.cache == nil || len(text) < minCacheableLen {
		return
	}
	encoded, err := json.Marshal(vec)
	if err != nil {
		return
	}
	s.cache.Set(ctx, vectorKey(text, inputType), string(encoded), s.cacheTTL)
}

func vectorKey(text string, inputType InputType) string {
	sum := md5.Sum([]byte(text))
	return "continuum:emb:" + string(inputType) + ":" + hex.EncodeToString(sum[:])
}
