package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/continuumhq/continuum/internal/config"
)

// Ollama embeds through a local Ollama server. Used for offline development.
type Ollama struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewOllama creates the provider from configuration.
func NewOllama(cfg config.Config) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimSuffix(cfg.OllamaURL, "/"),
		model:      cfg.OllamaModel,
		dimensions: cfg.EmbeddingDimensions,
		httpClient: &http.Client{Timeout: cfg.EmbeddingTimeout},
	}
}

func (o *Ollama) Name() string    { return "ollama" }
func (o *Ollama) Dimensions() int { return o.dimensions }

type ollamaRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed calls the /api/embed endpoint. Ollama has no asymmetric input types,
// so inputType is ignored.
func (o *Ollama) Embed(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	payload, err := json.Marshal(ollamaRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: ollama returned %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}
