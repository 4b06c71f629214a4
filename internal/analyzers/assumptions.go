package analyzers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// Assumptions scans decisions carrying assumptions and flags later decisions
// that contradict them.
type Assumptions struct {
	db       *storage.DB
	notifier Notifier
	cfg      config.Config
	logger   *slog.Logger
}

// NewAssumptions creates the monitor.
func NewAssumptions(db *storage.DB, notifier Notifier, cfg config.Config, logger *slog.Logger) *Assumptions {
	return &Assumptions{db: db, notifier: notifier, cfg: cfg, logger: logger}
}

// antonymPairs are domain opposites: an assumption mentioning one side is
// contradicted by a later decision asserting the other.
var antonymPairs = [][2]string{
	{"monolith", "microservice"},
	{"sync", "async"},
	{"synchronous", "asynchronous"},
	{"sql", "nosql"},
	{"relational", "document"},
	{"stateful", "stateless"},
	{"vertical", "horizontal"},
	{"on-premise", "cloud"},
	{"single-tenant", "multi-tenant"},
	{"strong consistency", "eventual consistency"},
	{"rest", "graphql"},
	{"polling", "streaming"},
}

var negationPhrases = []string{
	"no longer", "not anymore", "instead of", "rather than", "moved away from",
	"abandoned", "deprecated", "replaced", "switched from", "dropped", "reversed",
}

// Longer units come first so "ms" never half-matches as "m". Digit grouping
// ("10,000 rps") is accepted and stripped before parsing.
var numberWithUnit = regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*(thousand|million|billion|users|rps|qps|req|gb|tb|ms|k|m|b)?`)

// Scan walks all assumption-carrying decisions and records
// ASSUMPTION_INVALIDATED edges for detected violations. Returns the number of
// new edges written.
func (a *Assumptions) Scan(ctx context.Context, userID string) (int, error) {
	decisions, err := a.db.DecisionsWithAssumptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("analyzers: assumption decisions: %w", err)
	}

	written := 0
	for _, old := range decisions {
		later, err := a.db.DecisionsAfter(ctx, userID, old.CreatedAt)
		if err != nil {
			return written, fmt.Errorf("analyzers: later decisions: %w", err)
		}
		for _, assumption := range old.Assumptions {
			for _, newer := range later {
				if newer.ID == old.ID {
					continue
				}
				if !Violates(assumption, newer) {
					continue
				}
				exists, err := a.db.DecisionEdgeExists(ctx, model.EdgeAssumptionInvalidated, newer.ID, old.ID)
				if err != nil {
					return written, err
				}
				if exists {
					continue
				}
				if err := a.db.CreateDecisionEdge(ctx, model.DecisionEdge{
					Kind:       model.EdgeAssumptionInvalidated,
					FromID:     newer.ID,
					ToID:       old.ID,
					UserID:     userID,
					Assumption: assumption,
					Reasoning:  "detected by assumption-violation monitor",
				}); err != nil {
					return written, fmt.Errorf("analyzers: assumption edge: %w", err)
				}
				written++
				a.publish(ctx, userID, old, newer, assumption)
			}
		}
	}
	return written, nil
}

func (a *Assumptions) publish(ctx context.Context, userID string, old, newer model.Decision, assumption string) {
	if err := a.notifier.Publish(ctx, model.Notification{
		UserID: userID,
		Type:   model.NotifyAssumptionInvalidated,
		Title:  "Assumption invalidated",
		Body:   fmt.Sprintf("%q no longer holds: see %q.", assumption, newer.AgentDecision),
		Payload: map[string]any{
			"old_decision_id": old.ID.String(),
			"new_decision_id": newer.ID.String(),
			"assumption":      assumption,
		},
	}); err != nil {
		a.logger.Warn("analyzers: assumption notification failed",
			"user", userID, "decision", old.ID, "error", err)
	}
}

// Violates reports whether a later decision contradicts an assumption, by
// negation phrases near shared keywords, antonym pairs, or a ≥10x numeric
// scale change.
func Violates(assumption string, newer model.Decision) bool {
	aText := strings.ToLower(assumption)
	dText := strings.ToLower(newer.AgentDecision + " " + newer.AgentRationale + " " + newer.Context)

	if negationNearSharedKeyword(aText, dText) {
		return true
	}
	for _, pair := range antonymPairs {
		if containsWord(aText, pair[0]) && containsWord(dText, pair[1]) {
			return true
		}
		if containsWord(aText, pair[1]) && containsWord(dText, pair[0]) {
			return true
		}
	}
	return scaleJump(aText, dText)
}

// negationNearSharedKeyword checks that the newer text negates something and
// shares a significant keyword with the assumption.
func negationNearSharedKeyword(assumption, decision string) bool {
	negated := false
	for _, p := range negationPhrases {
		if strings.Contains(decision, p) {
			negated = true
			break
		}
	}
	if !negated {
		return false
	}
	for _, w := range strings.Fields(assumption) {
		if len(w) < 5 {
			continue
		}
		if containsWord(decision, w) {
			return true
		}
	}
	return false
}

// scaleJump detects numeric assumptions overtaken by at least a 10x change.
func scaleJump(assumption, decision string) bool {
	aNums := extractMagnitudes(assumption)
	dNums := extractMagnitudes(decision)
	for _, av := range aNums {
		for _, dv := range dNums {
			if av <= 0 || dv <= 0 {
				continue
			}
			if dv/av >= 10 || av/dv >= 10 {
				return true
			}
		}
	}
	return false
}

// extractMagnitudes pulls unit-qualified quantities. Bare numbers are ignored:
// comparing them across unrelated contexts produces noise.
func extractMagnitudes(text string) []float64 {
	var out []float64
	for _, m := range numberWithUnit.FindAllStringSubmatch(text, 10) {
		if m[2] == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "k", "thousand":
			v *= 1e3
		case "m", "million":
			v *= 1e6
		case "b", "billion":
			v *= 1e9
		}
		out = append(out, v)
	}
	return out
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(text[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(text) || !isWordChar(text[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
