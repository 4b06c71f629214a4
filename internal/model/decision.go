package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Scope categorizes a decision's reach. It controls staleness thresholds.
type Scope string

const (
	ScopeTactical      Scope = "tactical"
	ScopeStrategic     Scope = "strategic"
	ScopeArchitectural Scope = "architectural"
	ScopeUnknown       Scope = "unknown"
)

// Source identifies where a decision record came from.
type Source string

const (
	SourceClaudeLog Source = "claude_log"
	SourceInterview Source = "interview"
	SourceManual    Source = "manual"
	SourceImport    Source = "import"
	SourceAPI       Source = "api"
	SourceExternal  Source = "external"
)

// Span locates a verbatim quote inside the source conversation.
type Span struct {
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
	TurnIndex int `json:"turn_index"`
}

// Provenance records the full extraction lineage of a decision.
type Provenance struct {
	ExtractionMethod string `json:"extraction_method,omitempty"`
	ModelName        string `json:"model_name,omitempty"`
	PromptVersion    string `json:"prompt_version,omitempty"`
	InputTokens      int    `json:"input_tokens,omitempty"`
	OutputTokens     int    `json:"output_tokens,omitempty"`
	RetryCount       int    `json:"retry_count,omitempty"`
	ValidationFlags  []string `json:"validation_flags,omitempty"`

	// Source reference.
	SourceFile      string     `json:"source_file,omitempty"`
	SourceLine      int        `json:"source_line,omitempty"`
	TurnIndex       int        `json:"turn_index,omitempty"`
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	Snippet         string     `json:"snippet,omitempty"` // Capped at 500 chars.
}

// Grounding holds exact substrings of the source conversation, located by span.
type Grounding struct {
	VerbatimDecision  string `json:"verbatim_decision,omitempty"`
	VerbatimTrigger   string `json:"verbatim_trigger,omitempty"`
	VerbatimRationale string `json:"verbatim_rationale,omitempty"`
	DecisionSpan      *Span  `json:"decision_span,omitempty"`
}

// Decision is the primary record: a structured trace of an architectural choice.
type Decision struct {
	ID      uuid.UUID `json:"id"`
	UserID  string    `json:"user_id"`
	Project string    `json:"project,omitempty"`

	Trigger        string   `json:"trigger"`
	Context        string   `json:"context"`
	AgentDecision  string   `json:"agent_decision"`
	AgentRationale string   `json:"agent_rationale"`
	Options        []string `json:"options"`
	Confidence     float64  `json:"confidence"`
	Scope          Scope    `json:"scope"`
	Assumptions    []string `json:"assumptions,omitempty"`

	Source     Source     `json:"source"`
	Provenance Provenance `json:"provenance,omitempty"`
	Grounding  *Grounding `json:"grounding,omitempty"`

	// Human override of the extracted decision.
	HumanDecision  *string `json:"human_decision,omitempty"`
	HumanRationale *string `json:"human_rationale,omitempty"`

	Embedding *pgvector.Vector `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	EditCount int        `json:"edit_count"`

	// Joined data (populated by queries, not stored in the decisions table).
	Entities   []Entity            `json:"entities,omitempty"`
	Candidates []CandidateDecision `json:"candidates,omitempty"`
}

// ClampConfidence forces confidence into [0,1].
func (d *Decision) ClampConfidence() {
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
}

// IsChosenOption reports whether option is the decision's chosen option,
// using case-insensitive, whitespace-trimmed comparison.
func (d *Decision) IsChosenOption(option string) bool {
	return strings.EqualFold(strings.TrimSpace(option), strings.TrimSpace(d.AgentDecision))
}

// RejectedOptions returns the options that were considered and not chosen.
func (d *Decision) RejectedOptions() []string {
	var out []string
	for _, opt := range d.Options {
		if !d.IsChosenOption(opt) {
			out = append(out, opt)
		}
	}
	return out
}

// CandidateDecision is a rejected alternative, materialized as its own node
// so dormant-alternative analysis can find it later.
type CandidateDecision struct {
	ID         uuid.UUID `json:"id"`
	DecisionID uuid.UUID `json:"decision_id"` // REJECTED_BY target.
	UserID     string    `json:"user_id"`
	Text       string    `json:"text"` // Verbatim option text.
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// CandidateStatusRejected is the only status candidates are created with.
const CandidateStatusRejected = "rejected"

// DormantAlternative is a rejected option that has not reappeared in any
// later decision for the configured dormancy window.
type DormantAlternative struct {
	CandidateID          uuid.UUID `json:"candidate_id"`
	Text                 string    `json:"text"`
	RejectedByDecisionID uuid.UUID `json:"rejected_by_decision_id"`
	RejectedAt           time.Time `json:"rejected_at"`
	DaysDormant          int       `json:"days_dormant"`
	OriginalConfidence   float64   `json:"original_confidence"`
	ReconsiderScore      float64   `json:"reconsider_score"`
}
