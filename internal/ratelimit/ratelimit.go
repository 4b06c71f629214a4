// Package ratelimit provides per-user request throttling behind a small
// Limiter interface, with in-memory and Redis-backed implementations.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports the outcome of a limiter check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Noop allows everything. Used when rate limiting is disabled.
type Noop struct{}

func (Noop) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true, Remaining: -1}, nil
}

// Memory is a fixed-window in-process limiter. Suitable for single-instance
// deployments; multi-instance setups should use the Redis limiter so the
// window is shared.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewMemory creates an in-memory limiter allowing limit requests per window.
func NewMemory(limit int, win time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  win,
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= m.window {
		b = &window{start: now}
		m.buckets[key] = b
	}
	if b.count >= m.limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.start.Add(m.window).Sub(now),
		}, nil
	}
	b.count++
	return Result{Allowed: true, Remaining: m.limit - b.count}, nil
}

// Prune drops windows that have fully expired. Called periodically by the app
// so the bucket map does not grow without bound.
func (m *Memory) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, b := range m.buckets {
		if now.Sub(b.start) >= m.window {
			delete(m.buckets, k)
		}
	}
}
