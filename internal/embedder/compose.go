package embedder

import (
	"strings"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
)

// SelectProvider picks a provider by configured name. "auto" prefers the
// OpenAI-compatible endpoint when an API key is present, then Ollama,
// then noop.
func SelectProvider(cfg config.Config) Provider {
	switch cfg.EmbeddingProvider {
	case "openai":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	case "noop":
		return Noop{}
	default: // auto
		if cfg.EmbeddingAPIKey.Value() != "" {
			return NewOpenAI(cfg)
		}
		if cfg.OllamaURL != "" {
			return NewOllama(cfg)
		}
		return Noop{}
	}
}

// ComposeDecisionText builds the embed text for a decision. Fields repeat in
// proportion to their configured weight so the decision statement dominates
// the vector without provider-side weighting support.
func ComposeDecisionText(d model.Decision, cfg config.Config) string {
	var b strings.Builder
	appendWeighted(&b, d.AgentDecision, cfg.WeightTitle)
	appendWeighted(&b, d.AgentRationale, cfg.WeightRationale)
	appendWeighted(&b, d.Context, cfg.WeightContext)
	appendWeighted(&b, d.Trigger, cfg.WeightTrigger)
	return strings.TrimSpace(b.String())
}

// appendWeighted writes text floor(weight) times, plus once more when the
// fractional part is at least a half. A weight of 0.8 still writes once.
func appendWeighted(b *strings.Builder, text string, weight float64) {
	text = strings.TrimSpace(text)
	if text == "" || weight <= 0 {
		return
	}
	n := int(weight)
	if weight-float64(n) >= 0.5 {
		n++
	}
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
}

// ComposeEntityText builds the embed text for an entity.
func ComposeEntityText(e model.Entity) string {
	if e.Type != "" {
		return e.Name + " (" + string(e.Type) + ")"
	}
	return e.Name
}
