// Package export mirrors extracted decisions into per-project markdown files.
// The layout is stable so downstream git diffs of DECISIONS.md stay readable.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/continuumhq/continuum/internal/model"
)

// Exporter appends decision records to a per-project markdown tree:
//
//	<dir>/<project>/DECISIONS.md          running log, append-only
//	<dir>/<project>/<timestamp>.md        one file per conversation
//
// A zero-value dir disables export entirely.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// New creates the exporter. dir may be empty, which turns every call into a
// no-op.
func New(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// Enabled reports whether an export directory is configured.
func (e *Exporter) Enabled() bool { return e.dir != "" }

// WriteConversation writes the conversation's decisions: one timestamped file
// for the conversation plus an append to the project's DECISIONS.md.
func (e *Exporter) WriteConversation(conv model.Conversation, decisions []model.Decision) error {
	if !e.Enabled() || len(decisions) == 0 {
		return nil
	}
	project := conv.Project
	if project == "" {
		project = "default"
	}
	projectDir := filepath.Join(e.dir, sanitizeName(project))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("export: create project dir: %w", err)
	}

	ts := conv.SessionTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	name := ts.UTC().Format("2006-01-02T15-04-05") + ".md"

	var conversation strings.Builder
	fmt.Fprintf(&conversation, "# Conversation %s\n\n", ts.UTC().Format(time.RFC3339))
	if conv.SourceFile != "" {
		fmt.Fprintf(&conversation, "Source: `%s`\n\n", conv.SourceFile)
	}
	for _, d := range decisions {
		conversation.WriteString(renderDecision(d))
	}
	if err := os.WriteFile(filepath.Join(projectDir, name), []byte(conversation.String()), 0o644); err != nil {
		return fmt.Errorf("export: write conversation file: %w", err)
	}
	e.logger.Debug("export: wrote conversation",
		"project", project, "file", name, "decisions", len(decisions))

	return e.appendDecisions(projectDir, decisions)
}

// Append adds decisions to the project's DECISIONS.md without a conversation
// file, for decisions recorded through the API.
func (e *Exporter) Append(project string, decisions []model.Decision) error {
	if !e.Enabled() || len(decisions) == 0 {
		return nil
	}
	if project == "" {
		project = "default"
	}
	projectDir := filepath.Join(e.dir, sanitizeName(project))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("export: create project dir: %w", err)
	}
	return e.appendDecisions(projectDir, decisions)
}

func (e *Exporter) appendDecisions(projectDir string, decisions []model.Decision) error {
	path := filepath.Join(projectDir, "DECISIONS.md")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("export: open decisions log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("export: stat decisions log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString("# Decisions\n\n"); err != nil {
			return fmt.Errorf("export: write header: %w", err)
		}
	}
	for _, d := range decisions {
		if _, err := f.WriteString(renderDecision(d)); err != nil {
			return fmt.Errorf("export: append decision: %w", err)
		}
	}
	return nil
}

// renderDecision produces one decision record. Field order is fixed.
func renderDecision(d model.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", firstLine(d.AgentDecision))
	fmt.Fprintf(&b, "- **Date:** %s\n", d.CreatedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- **Confidence:** %.2f\n", d.Confidence)
	fmt.Fprintf(&b, "- **Scope:** %s\n", d.Scope)
	if d.Provenance.TurnIndex > 0 {
		fmt.Fprintf(&b, "- **Turn:** %d\n", d.Provenance.TurnIndex)
	}
	b.WriteString("\n")

	if d.Trigger != "" {
		fmt.Fprintf(&b, "**Trigger:** %s\n\n", d.Trigger)
	}
	if d.Context != "" {
		fmt.Fprintf(&b, "**Context:** %s\n\n", d.Context)
	}
	if len(d.Options) > 0 {
		b.WriteString("**Options considered:**\n")
		for _, opt := range d.Options {
			marker := " "
			if d.IsChosenOption(opt) {
				marker = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", marker, opt)
		}
		b.WriteString("\n")
	}
	if d.AgentRationale != "" {
		fmt.Fprintf(&b, "**Rationale:** %s\n\n", d.AgentRationale)
	}
	if d.Grounding != nil && d.Grounding.VerbatimDecision != "" {
		fmt.Fprintf(&b, "> %s\n\n", d.Grounding.VerbatimDecision)
	}
	b.WriteString("---\n\n")
	return b.String()
}

// sanitizeName makes a project name safe as a directory component.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, name)
	name = strings.Trim(name, "-.")
	if name == "" {
		return "default"
	}
	return name
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
