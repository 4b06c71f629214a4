package analyzers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// Staleness flags decisions older than their per-scope threshold. Superseded
// decisions are excluded: they have already been revisited.
type Staleness struct {
	db       *storage.DB
	notifier Notifier
	cfg      config.Config
	logger   *slog.Logger
}

// NewStaleness creates the classifier.
func NewStaleness(db *storage.DB, notifier Notifier, cfg config.Config, logger *slog.Logger) *Staleness {
	return &Staleness{db: db, notifier: notifier, cfg: cfg, logger: logger}
}

func (s *Staleness) thresholds() map[string]int {
	return map[string]int{
		string(model.ScopeTactical):      s.cfg.StaleTacticalDays,
		string(model.ScopeStrategic):     s.cfg.StaleStrategicDays,
		string(model.ScopeArchitectural): s.cfg.StaleArchitecturalDays,
		string(model.ScopeUnknown):       s.cfg.StaleTacticalDays,
	}
}

// Scan returns the user's stale decisions.
func (s *Staleness) Scan(ctx context.Context, userID string, limit int) ([]model.Decision, error) {
	stale, err := s.db.StaleDecisions(ctx, userID, s.thresholds(), limit)
	if err != nil {
		return nil, fmt.Errorf("analyzers: stale scan: %w", err)
	}
	return stale, nil
}

// Notify publishes one notification per stale decision.
func (s *Staleness) Notify(ctx context.Context, userID string, stale []model.Decision) {
	for _, d := range stale {
		if err := s.notifier.Publish(ctx, model.Notification{
			UserID: userID,
			Type:   model.NotifyStaleDecision,
			Title:  "Decision may be stale",
			Body:   fmt.Sprintf("%q is past its %s review window.", d.AgentDecision, d.Scope),
			Payload: map[string]any{
				"decision_id": d.ID.String(),
				"scope":       string(d.Scope),
			},
		}); err != nil {
			s.logger.Warn("analyzers: stale notification failed",
				"user", userID, "decision", d.ID, "error", err)
		}
	}
}
