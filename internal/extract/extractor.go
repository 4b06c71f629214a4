// Package extract turns conversations into decision drafts through a
// structured-extraction LLM call, with input sanitization, confidence
// calibration, and verbatim grounding.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/llm"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/telemetry"
)

// ExtractionError means the LLM pipeline failed after retries. The caller
// decides whether to drop the conversation or persist a stub.
type ExtractionError struct {
	SourceFile string
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: %s: %v", e.SourceFile, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Relationship is the paired-analysis classification between two decisions.
type Relationship struct {
	Kind       string  `json:"relationship"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Extractor runs the extraction pipeline against a resilient LLM client.
type Extractor struct {
	llm    *llm.Client
	cfg    config.Config
	logger *slog.Logger
}

// New creates an extractor.
func New(client *llm.Client, cfg config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{llm: client, cfg: cfg, logger: logger}
}

// rawDecision is the shape the extraction prompt demands.
type rawDecision struct {
	Trigger     string   `json:"trigger"`
	Context     string   `json:"context"`
	Decision    string   `json:"decision"`
	Rationale   string   `json:"rationale"`
	Options     []string `json:"options"`
	Confidence  float64  `json:"confidence"`
	Scope       string   `json:"scope"`
	Assumptions []string `json:"assumptions"`
	Entities    []struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Role string `json:"role"`
	} `json:"entities"`
}

// ExtractDecisions transforms a conversation into decision drafts. Oversized
// conversations are summarized first; malformed model output yields an empty
// list with a warning, never an error.
func (e *Extractor) ExtractDecisions(ctx context.Context, conv model.Conversation) ([]model.DecisionDraft, error) {
	if conv.IsEmpty() {
		return nil, nil
	}

	sanitized := e.sanitizeConversation(conv)
	prompt := buildExtractionPrompt(sanitized)

	if llm.EstimateTokens(prompt) > e.llm.PromptBudget() {
		compressed, err := e.summarize(ctx, prompt)
		if err != nil {
			return nil, &ExtractionError{SourceFile: conv.SourceFile, Err: err}
		}
		prompt = compressed
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:   0.1,
		JSONMode:      true,
		PromptVersion: promptVersion,
	})
	if err != nil {
		return nil, &ExtractionError{SourceFile: conv.SourceFile, Err: err}
	}

	raws, ok := parseDecisionArray(resp.Content)
	if !ok {
		e.logger.Warn("extract: malformed extraction response",
			"source", conv.SourceFile, "model", resp.Model,
			"response_prefix", head(resp.Content, 200))
		return nil, nil
	}

	drafts := make([]model.DecisionDraft, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw.Decision) == "" {
			continue
		}
		drafts = append(drafts, e.buildDraft(raw, conv, resp))
	}
	if len(drafts) > 0 {
		telemetry.DecisionsExtracted().Add(ctx, int64(len(drafts)),
			metric.WithAttributes(attribute.String("source", string(model.SourceClaudeLog))))
	}
	return drafts, nil
}

// AnalyzePair classifies the relationship between a newer and an older
// decision. Used by the evolution analyzer.
func (e *Extractor) AnalyzePair(ctx context.Context, newer, older model.Decision) (Relationship, error) {
	resp, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: pairedAnalysisSystemPrompt},
			{Role: "user", Content: buildPairedAnalysisPrompt(newer, older)},
		},
		Temperature:   0,
		JSONMode:      true,
		PromptVersion: promptVersion,
	})
	if err != nil {
		return Relationship{}, fmt.Errorf("extract: paired analysis: %w", err)
	}

	var rel Relationship
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &rel); err != nil {
		return Relationship{}, fmt.Errorf("extract: parse paired analysis: %w", err)
	}
	switch rel.Kind {
	case "SUPERSEDES", "CONTRADICTS", "SIMILAR_TO", "UNRELATED":
	default:
		return Relationship{}, fmt.Errorf("extract: unknown relationship %q", rel.Kind)
	}
	return rel, nil
}

func (e *Extractor) sanitizeConversation(conv model.Conversation) model.Conversation {
	out := conv
	out.Turns = make([]model.Turn, len(conv.Turns))
	for i, t := range conv.Turns {
		res := SanitizeForPrompt(t.Content)
		if res.WasModified && res.RiskLevel.AtLeast(RiskMedium) {
			e.logger.Warn("extract: sanitized risky turn",
				"source", conv.SourceFile, "turn", i,
				"risk", string(res.RiskLevel), "patterns", res.DetectedPatterns)
		}
		t.Content = res.SanitizedText
		out.Turns[i] = t
	}
	return out
}

// summarize compresses an oversized prompt, preserving verbatim decision and
// constraint statements.
func (e *Extractor) summarize(ctx context.Context, prompt string) (string, error) {
	// Keep the most recent material intact and compress the rest.
	budget := e.llm.PromptBudget() * 4
	keep := len(prompt) / 3
	if keep > budget/2 {
		keep = budget / 2
	}
	older, recent := prompt[:len(prompt)-keep], prompt[len(prompt)-keep:]

	resp, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: summarizationSystemPrompt},
			{Role: "user", Content: older},
		},
		Temperature:   0.1,
		PromptVersion: promptVersion,
	})
	if err != nil {
		if errors.Is(err, llm.ErrPromptTooLarge) {
			return "", llm.ErrPromptTooLarge
		}
		return "", fmt.Errorf("extract: summarize: %w", err)
	}
	return resp.Content + "\n" + recent, nil
}

func (e *Extractor) buildDraft(raw rawDecision, conv model.Conversation, resp llm.Response) model.DecisionDraft {
	d := model.Decision{
		Project:        conv.Project,
		Trigger:        raw.Trigger,
		Context:        raw.Context,
		AgentDecision:  raw.Decision,
		AgentRationale: raw.Rationale,
		Options:        raw.Options,
		Confidence:     raw.Confidence,
		Scope:          parseScope(raw.Scope),
		Assumptions:    raw.Assumptions,
		Source:         model.SourceClaudeLog,
		Provenance: model.Provenance{
			ExtractionMethod: "llm_structured",
			ModelName:        resp.Model,
			PromptVersion:    promptVersion,
			InputTokens:      resp.Usage.PromptTokens,
			OutputTokens:     resp.Usage.CompletionTokens,
			SourceFile:       conv.SourceFile,
		},
	}
	if !conv.SessionTimestamp.IsZero() {
		ts := conv.SessionTimestamp
		d.Provenance.SourceTimestamp = &ts
	}

	// Every decision carries at least one option: the choice itself.
	if len(d.Options) == 0 {
		d.Options = []string{d.AgentDecision}
		d.Provenance.ValidationFlags = append(d.Provenance.ValidationFlags, "options_defaulted")
	}

	CalibrateConfidence(&d, e.cfg.ConfidenceCalibrationMethod)

	if e.cfg.VerbatimGroundingEnabled {
		d.Grounding = groundDraft(d, conv)
	}

	draft := model.DecisionDraft{Decision: d}
	for _, ent := range raw.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		draft.Mentions = append(draft.Mentions, model.EntityMention{
			Name: name,
			Type: parseEntityType(ent.Type),
			Role: ent.Role,
		})
	}
	return draft
}

// groundDraft locates each extracted field verbatim within the conversation.
// Fields the model paraphrased simply have no span.
func groundDraft(d model.Decision, conv model.Conversation) *model.Grounding {
	g := &model.Grounding{}
	if span, text := findSpan(conv, d.AgentDecision); span != nil {
		g.VerbatimDecision = text
		g.DecisionSpan = span
	}
	if _, text := findSpan(conv, d.Trigger); text != "" {
		g.VerbatimTrigger = text
	}
	if _, text := findSpan(conv, d.AgentRationale); text != "" {
		g.VerbatimRationale = text
	}
	if g.VerbatimDecision == "" && g.VerbatimTrigger == "" && g.VerbatimRationale == "" {
		return nil
	}
	return g
}

func findSpan(conv model.Conversation, needle string) (*model.Span, string) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil, ""
	}
	for i, t := range conv.Turns {
		if idx := strings.Index(strings.ToLower(t.Content), strings.ToLower(needle)); idx >= 0 {
			return &model.Span{StartChar: idx, EndChar: idx + len(needle), TurnIndex: i},
				t.Content[idx : idx+len(needle)]
		}
	}
	return nil, ""
}

// parseDecisionArray tolerates the usual model output quirks: fenced blocks,
// surrounding prose, and a bare object instead of an array.
func parseDecisionArray(content string) ([]rawDecision, bool) {
	content = stripFences(content)

	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			var out []rawDecision
			if err := json.Unmarshal([]byte(content[start:end+1]), &out); err == nil {
				return out, true
			}
		}
	}
	// A single object auto-wraps to a one-element array.
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			var one rawDecision
			if err := json.Unmarshal([]byte(content[start:end+1]), &one); err == nil {
				return []rawDecision{one}, true
			}
		}
	}
	return nil, false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func parseScope(s string) model.Scope {
	switch model.Scope(strings.ToLower(strings.TrimSpace(s))) {
	case model.ScopeTactical:
		return model.ScopeTactical
	case model.ScopeStrategic:
		return model.ScopeStrategic
	case model.ScopeArchitectural:
		return model.ScopeArchitectural
	default:
		return model.ScopeUnknown
	}
}

func parseEntityType(s string) model.EntityType {
	switch model.EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case model.EntityTechnology, model.EntityConcept, model.EntityPattern,
		model.EntitySystem, model.EntityPerson, model.EntityOrganization:
		return model.EntityType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return model.EntityConcept
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
