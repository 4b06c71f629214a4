// Package llm provides access to chat-completion providers behind a resilient
// client: response caching, retries with backoff, a circuit breaker, and an
// optional fallback model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a single chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat-completion request. PromptVersion identifies the prompt
// template revision that produced the messages; it participates in the cache
// key so a template change invalidates stale cached responses.
type Request struct {
	Model         string    `json:"model,omitempty"`
	Messages      []Message `json:"messages"`
	Temperature   float64   `json:"temperature"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	JSONMode      bool      `json:"-"`
	PromptVersion string    `json:"-"`
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed chat response.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Cached  bool   `json:"-"`
}

// Chunk is one incremental piece of a streamed completion.
type Chunk struct {
	Content string
}

// Provider executes chat completions. CompleteStream delivers content deltas
// through emit as they arrive and returns the aggregated response; an error
// from emit aborts the stream. Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	CompleteStream(ctx context.Context, req Request, emit func(Chunk) error) (Response, error)
	Name() string
}

// ErrPromptTooLarge means the prompt exceeds the model's usable context window
// even after summarization.
var ErrPromptTooLarge = errors.New("llm: prompt exceeds context window")

// ErrNoProvider means no provider is configured.
var ErrNoProvider = errors.New("llm: no provider configured")

// CircuitOpenError is returned while the breaker is open. RetryIn tells
// callers when the breaker will next admit a probe.
type CircuitOpenError struct {
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("llm: circuit open, retry in %s", e.RetryIn.Round(time.Second))
}

// StatusError is a non-2xx provider response. Retriability depends on the code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.Code, e.Body)
}

// Retriable reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) Retriable() bool {
	return e.Code == 429 || e.Code >= 500
}

// EstimateTokens approximates the token count of a text. Four characters per
// token is close enough for budget checks against a 128k window.
func EstimateTokens(text string) int {
	return len(text) / 4
}
