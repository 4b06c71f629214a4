package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/continuumhq/continuum/internal/config"
)

func TestOpenAIProviderCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !body.Stream {
			t.Error("stream flag should be set")
		}
		if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Error("usage accounting should be requested")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"test-model\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, config.Secret(""), "test-model", 5*time.Second)
	var deltas []string
	resp, err := p.CompleteStream(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(ch Chunk) error {
		deltas = append(deltas, ch.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Model != "test-model" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestOpenAIProviderCompleteStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		// Connection drops before the terminator.
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, config.Secret(""), "test-model", 5*time.Second)
	_, err := p.CompleteStream(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(Chunk) error { return nil })
	if err == nil {
		t.Fatal("truncated stream should error")
	}
}

func TestOpenAIProviderCompleteStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, config.Secret(""), "test-model", 5*time.Second)
	_, err := p.CompleteStream(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(Chunk) error { return nil })
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
}
