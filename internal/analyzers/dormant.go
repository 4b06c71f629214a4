// Package analyzers holds the background scanners that mine the graph for
// actionable findings: dormant alternatives, invalidated assumptions, stale
// decisions, commit links, and alias-dictionary updates.
package analyzers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// Notifier publishes a durable notification and fans it out to live
// connections. Satisfied by the notification service.
type Notifier interface {
	Publish(ctx context.Context, n model.Notification) error
}

// Dormant finds rejected alternatives that never resurfaced in any later
// decision and ranks them for reconsideration.
type Dormant struct {
	db       *storage.DB
	notifier Notifier
	cfg      config.Config
	logger   *slog.Logger
}

// NewDormant creates the detector.
func NewDormant(db *storage.DB, notifier Notifier, cfg config.Config, logger *slog.Logger) *Dormant {
	return &Dormant{db: db, notifier: notifier, cfg: cfg, logger: logger}
}

// Scan returns the user's dormant alternatives ranked by reconsider score.
func (a *Dormant) Scan(ctx context.Context, userID string) ([]model.DormantAlternative, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.MinDaysDormant)
	candidates, confidences, err := a.db.CandidatesRejectedBefore(ctx, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("analyzers: dormant candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var out []model.DormantAlternative
	for _, c := range candidates {
		later, err := a.db.DecisionsAfter(ctx, userID, c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("analyzers: later decisions: %w", err)
		}
		if resurfaced(c.Text, later) {
			continue
		}
		days := int(time.Since(c.CreatedAt).Hours() / 24)
		out = append(out, model.DormantAlternative{
			CandidateID:          c.ID,
			Text:                 c.Text,
			RejectedByDecisionID: c.DecisionID,
			RejectedAt:           c.CreatedAt,
			DaysDormant:          days,
			OriginalConfidence:   confidences[c.ID],
			ReconsiderScore:      ReconsiderScore(days, confidences[c.ID]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReconsiderScore > out[j].ReconsiderScore
	})
	return out, nil
}

// Notify publishes a notification for each dormant alternative found.
func (a *Dormant) Notify(ctx context.Context, userID string, alts []model.DormantAlternative) {
	for _, alt := range alts {
		if err := a.notifier.Publish(ctx, model.Notification{
			UserID: userID,
			Type:   model.NotifyDormantAlternative,
			Title:  "Dormant alternative worth revisiting",
			Body:   fmt.Sprintf("%q was rejected %d days ago and has not come up since.", alt.Text, alt.DaysDormant),
			Payload: map[string]any{
				"candidate_id":     alt.CandidateID.String(),
				"decision_id":      alt.RejectedByDecisionID.String(),
				"reconsider_score": alt.ReconsiderScore,
			},
		}); err != nil {
			a.logger.Warn("analyzers: dormant notification failed",
				"user", userID, "candidate", alt.CandidateID, "error", err)
		}
	}
}

// ReconsiderScore ranks a dormant alternative: older rejections and lower
// original confidence both raise it. age_score saturates at one year.
func ReconsiderScore(daysDormant int, originalConfidence float64) float64 {
	ageScore := float64(daysDormant) / 365
	if ageScore > 1 {
		ageScore = 1
	}
	return 0.6*ageScore + 0.4*(1-originalConfidence)
}

// resurfaced reports whether the candidate text reappears in any later
// decision, by lexical containment in either direction.
func resurfaced(text string, later []model.Decision) bool {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return false
	}
	for _, d := range later {
		haystack := strings.ToLower(d.AgentDecision + " " + d.AgentRationale)
		if strings.Contains(haystack, needle) || strings.Contains(needle, strings.ToLower(strings.TrimSpace(d.AgentDecision))) {
			return true
		}
	}
	return false
}
