package analyzers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
)

// CommitLinker connects incoming commits to the decisions they likely
// implement, scored by Jaccard overlap of file sets.
type CommitLinker struct {
	db       *storage.DB
	notifier Notifier
	cfg      config.Config
	logger   *slog.Logger
}

// NewCommitLinker creates the linker.
func NewCommitLinker(db *storage.DB, notifier Notifier, cfg config.Config, logger *slog.Logger) *CommitLinker {
	return &CommitLinker{db: db, notifier: notifier, cfg: cfg, logger: logger}
}

// LinkResult reports what a webhook call produced.
type LinkResult struct {
	SHA             string
	LinkedDecisions int
	CreatedTouches  int
}

// HandleCommit persists the commit node with its TOUCHES edges, then links
// decisions whose affected files overlap the commit's within the session
// window.
func (l *CommitLinker) HandleCommit(ctx context.Context, userID string, hook model.CommitWebhook) (LinkResult, error) {
	commit := model.Commit{
		SHA:          hook.SHA,
		Message:      hook.Message,
		Author:       hook.AuthorEmail,
		CommittedAt:  hook.CommittedAt,
		FilesChanged: hook.FilesChanged,
		UserID:       userID,
	}
	if err := l.db.CreateCommit(ctx, commit); err != nil {
		return LinkResult{}, err
	}
	touches, err := l.db.CreateTouchesEdges(ctx, hook.SHA, userID, hook.FilesChanged)
	if err != nil {
		return LinkResult{}, err
	}

	// Window: [session_start - W, commit_time]. Without a session timestamp
	// the window anchors on the commit itself.
	window := time.Duration(l.cfg.CommitLinkWindowHours) * time.Hour
	anchor := hook.CommittedAt
	if hook.SessionTimestamp != nil {
		anchor = *hook.SessionTimestamp
	}
	since := anchor.Add(-window)

	affected, err := l.db.DecisionsAffectingFiles(ctx, userID, hook.FilesChanged, since, hook.CommittedAt)
	if err != nil {
		return LinkResult{}, err
	}

	linked := 0
	for decisionID, files := range affected {
		score := Jaccard(files, hook.FilesChanged)
		if score < l.cfg.CommitLinkScoreThreshold {
			continue
		}
		if err := l.db.CreateImplementedByEdge(ctx, model.ImplementedByEdge{
			DecisionID: decisionID,
			CommitSHA:  hook.SHA,
			UserID:     userID,
			Score:      score,
		}); err != nil {
			return LinkResult{}, err
		}
		linked++
		l.publish(ctx, userID, decisionID.String(), hook.SHA, score)
	}

	return LinkResult{SHA: hook.SHA, LinkedDecisions: linked, CreatedTouches: touches}, nil
}

func (l *CommitLinker) publish(ctx context.Context, userID, decisionID, sha string, score float64) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Publish(ctx, model.Notification{
		UserID: userID,
		Type:   model.NotifyCommitLinked,
		Title:  "Commit linked to decision",
		Body:   fmt.Sprintf("Commit %.8s implements a recorded decision (overlap %.0f%%).", sha, score*100),
		Payload: map[string]any{
			"decision_id": decisionID,
			"commit_sha":  sha,
			"score":       score,
		},
	}); err != nil {
		l.logger.Warn("analyzers: commit notification failed",
			"user", userID, "sha", sha, "error", err)
	}
}

// Jaccard computes |A ∩ B| / |A ∪ B| over two file lists.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, f := range a {
		setA[f] = true
	}
	setB := make(map[string]bool, len(b))
	for _, f := range b {
		setB[f] = true
	}
	inter := 0
	for f := range setB {
		if setA[f] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
