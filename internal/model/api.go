package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard envelope for successful responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// ErrorDetail describes an API error. Code is a stable tag for client branching.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeUnprocessable      = "UNPROCESSABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// FieldError describes a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RememberRequest is the body for POST /api/agent/remember.
type RememberRequest struct {
	Project        string   `json:"project,omitempty"`
	Trigger        string   `json:"trigger"`
	Context        string   `json:"context,omitempty"`
	Decision       string   `json:"decision"`
	Rationale      string   `json:"rationale,omitempty"`
	Options        []string `json:"options,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	Assumptions    []string `json:"assumptions,omitempty"`
	Entities       []EntityMention `json:"entities,omitempty"`
	AffectedFiles  []string `json:"affected_files,omitempty"`
}

// ContextRequest is the body for POST /api/agent/context.
type ContextRequest struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Format  string `json:"format,omitempty"` // "json" (default) or "markdown"
}

// CheckRequest is the body for POST /api/agent/check.
type CheckRequest struct {
	Proposal string `json:"proposal"`
	Project  string `json:"project,omitempty"`
}

// CheckVerdict is the recommendation returned by the prior-art check.
type CheckVerdict string

const (
	VerdictProceed              CheckVerdict = "proceed"
	VerdictReviewSimilar        CheckVerdict = "review_similar"
	VerdictResolveContradiction CheckVerdict = "resolve_contradiction"
)

// CheckResponse is the response for POST /api/agent/check.
type CheckResponse struct {
	Verdict        CheckVerdict `json:"verdict"`
	Similar        []Decision   `json:"similar,omitempty"`
	Contradictions []Decision   `json:"contradictions,omitempty"`
}

// CommitWebhook is the body for POST /api/git/commit.
type CommitWebhook struct {
	SHA              string     `json:"sha"`
	Message          string     `json:"message"`
	AuthorEmail      string     `json:"author_email"`
	CommittedAt      time.Time  `json:"committed_at"`
	FilesChanged     []string   `json:"files_changed"`
	ProjectName      string     `json:"project_name,omitempty"`
	SessionTimestamp *time.Time `json:"session_timestamp,omitempty"`
}

// CommitWebhookResponse is the response for POST /api/git/commit.
type CommitWebhookResponse struct {
	SHA             string `json:"sha"`
	LinkedDecisions int    `json:"linked_decisions"`
	CreatedTouches  int    `json:"created_touches"`
}

// BulkImportRequest is the body for POST /api/decisions/bulk.
type BulkImportRequest struct {
	Decisions      []Decision `json:"decisions"`
	SkipDuplicates bool       `json:"skip_duplicates"`
}

// BulkImportResponse reports the successful portion plus structured errors.
type BulkImportResponse struct {
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Errors   []BulkItemError `json:"errors,omitempty"`
}

// BulkItemError describes a single failed bulk-import item.
type BulkItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// SearchResult is a scored hit from hybrid search.
type SearchResult struct {
	DecisionID uuid.UUID `json:"decision_id"`
	Score      float64   `json:"score"`
	Decision   *Decision `json:"decision,omitempty"`
}

// SummaryResponse is the project overview returned by GET /api/agent/summary.
type SummaryResponse struct {
	Project         string               `json:"project,omitempty"`
	TotalDecisions  int                  `json:"total_decisions"`
	Recent          []Decision           `json:"recent"`
	Superseded      []Decision           `json:"superseded,omitempty"`
	Stale           []Decision           `json:"stale,omitempty"`
	Dormant         []DormantAlternative `json:"dormant_alternatives,omitempty"`
	OpenContradictions []DecisionEdge    `json:"open_contradictions,omitempty"`
}
