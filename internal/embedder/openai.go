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

// OpenAI talks to any OpenAI-compatible embeddings endpoint, including
// NVIDIA NIM which honors the input_type extension for asymmetric models.
type OpenAI struct {
	baseURL    string
	apiKey     config.Secret
	model      string
	dimensions int
	httpClient *http.Client
}

// NewOpenAI creates the provider from configuration.
func NewOpenAI(cfg config.Config) *OpenAI {
	return &OpenAI{
		baseURL:    strings.TrimSuffix(cfg.EmbeddingBaseURL, "/"),
		apiKey:     cfg.EmbeddingAPIKey,
		model:      cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
		httpClient: &http.Client{Timeout: cfg.EmbeddingTimeout},
	}
}

func (o *OpenAI) Name() string    { return "openai" }
func (o *OpenAI) Dimensions() int { return o.dimensions }

type embeddingRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model:     o.model,
		Input:     texts,
		InputType: string(inputType),
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey.Value() != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey.Value())
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: provider returned %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings for %d texts", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedder: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
