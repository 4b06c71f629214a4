package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EntityType categorizes a canonical entity.
type EntityType string

const (
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityPattern      EntityType = "pattern"
	EntitySystem       EntityType = "system"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
)

// Entity is a canonical technology/concept/pattern node. Exactly one canonical
// spelling exists per semantic entity within a user scope; aliases resolve to it.
type Entity struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"user_id"`
	Name      string           `json:"name"` // Canonical spelling.
	Type      EntityType       `json:"type"`
	Aliases   []string         `json:"aliases,omitempty"`
	Embedding *pgvector.Vector `json:"-"`
	CreatedAt time.Time        `json:"created_at"`

	// Populated by detail queries.
	DecisionCount int `json:"decision_count,omitempty"`
}

// EntityMention is a free-text reference to an entity inside a decision draft,
// before resolution to a canonical node.
type EntityMention struct {
	Name string     `json:"name"`
	Type EntityType `json:"type"`
	Role string     `json:"role,omitempty"` // Relationship role carried on the INVOLVES edge.
}

// ResolutionStage identifies which resolver stage produced a match.
type ResolutionStage string

const (
	StageExact     ResolutionStage = "exact"
	StageCanonical ResolutionStage = "canonical_alias"
	StageAliasList ResolutionStage = "alias_field"
	StageFuzzy     ResolutionStage = "fuzzy"
	StageEmbedding ResolutionStage = "embedding"
	StageCreated   ResolutionStage = "created"
)

// Resolution is the outcome of resolving one mention, returned for telemetry.
type Resolution struct {
	EntityID      uuid.UUID       `json:"entity_id"`
	CanonicalName string          `json:"canonical_name"`
	Stage         ResolutionStage `json:"stage"`
}
