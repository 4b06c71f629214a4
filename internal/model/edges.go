package model

import (
	"time"

	"github.com/google/uuid"
)

// EdgeKind names an evolution or linking edge between graph nodes.
type EdgeKind string

const (
	EdgeSupersedes            EdgeKind = "SUPERSEDES"
	EdgeContradicts           EdgeKind = "CONTRADICTS"
	EdgeSimilarTo             EdgeKind = "SIMILAR_TO"
	EdgeAssumptionInvalidated EdgeKind = "ASSUMPTION_INVALIDATED"
	EdgeFollows               EdgeKind = "FOLLOWS"
	EdgePrecedes              EdgeKind = "PRECEDES"
)

// DecisionEdge is a directed decision-to-decision edge.
// CONTRADICTS is stored once and treated as undirected by convention;
// SIMILAR_TO is undirected in semantics with the cosine similarity as weight.
type DecisionEdge struct {
	ID         uuid.UUID `json:"id"`
	Kind       EdgeKind  `json:"kind"`
	FromID     uuid.UUID `json:"from_id"`
	ToID       uuid.UUID `json:"to_id"`
	UserID     string    `json:"user_id"`
	Confidence float64   `json:"confidence,omitempty"`
	Weight     float64   `json:"weight,omitempty"` // Cosine similarity for SIMILAR_TO.
	Reasoning  string    `json:"reasoning,omitempty"`
	Assumption string    `json:"assumption,omitempty"` // Invalidated assumption text.
	CreatedAt  time.Time `json:"created_at"`
}

// AffectsSource distinguishes how a decision→file edge was derived.
type AffectsSource string

const (
	AffectsToolCall AffectsSource = "tool_call"
	AffectsInferred AffectsSource = "inferred"
)

// AffectsEdge links a decision to a code file it touches.
type AffectsEdge struct {
	DecisionID uuid.UUID     `json:"decision_id"`
	FilePath   string        `json:"file_path"`
	UserID     string        `json:"user_id"`
	Source     AffectsSource `json:"source"`
	Confidence float64       `json:"confidence"`
	CreatedAt  time.Time     `json:"created_at"`
}

// InvolvesEdge links a decision to a canonical entity with a relationship role.
type InvolvesEdge struct {
	DecisionID uuid.UUID `json:"decision_id"`
	EntityID   uuid.UUID `json:"entity_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImplementedByEdge links a decision to a commit that likely implements it.
type ImplementedByEdge struct {
	DecisionID uuid.UUID `json:"decision_id"`
	CommitSHA  string    `json:"commit_sha"`
	UserID     string    `json:"user_id"`
	Score      float64   `json:"score"` // Jaccard overlap of file sets.
	LinkedAt   time.Time `json:"linked_at"`
}
