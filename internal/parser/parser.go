// Package parser reads line-delimited conversation logs and produces
// conversations split into episodes. It is a pure producer: no LLM calls,
// no graph access.
package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/continuumhq/continuum/internal/model"
)

// Parser converts raw session logs into conversations.
type Parser struct {
	episodeGap time.Duration
	logger     *slog.Logger
}

// New creates a parser that splits episodes at the given inter-turn gap.
func New(episodeGap time.Duration, logger *slog.Logger) *Parser {
	return &Parser{episodeGap: episodeGap, logger: logger}
}

// logRecord is one line of a session log. Tool call references appear either
// inline on assistant messages or as dedicated tool records.
type logRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolCalls []struct {
		Name     string `json:"name"`
		FilePath string `json:"file_path"`
	} `json:"tool_calls"`
}

// Parse reads a line-delimited log and returns one conversation per episode.
// Malformed lines are skipped with a warning rather than failing the file.
func (p *Parser) Parse(r io.Reader, project, sourceFile string) ([]model.Conversation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var turns []model.Turn
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			p.logger.Warn("parser: skipping malformed line",
				"file", sourceFile, "line", lineNo, "error", err)
			continue
		}
		role := model.Role(rec.Role)
		switch role {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			continue
		}
		turn := model.Turn{Role: role, Content: rec.Content, Timestamp: rec.Timestamp}
		for _, tc := range rec.ToolCalls {
			turn.ToolCalls = append(turn.ToolCalls, model.ToolCall{Name: tc.Name, FilePath: tc.FilePath})
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", sourceFile, err)
	}
	return p.splitEpisodes(turns, project, sourceFile), nil
}

// splitEpisodes breaks the turn sequence wherever the gap between consecutive
// timestamped turns exceeds the threshold. Turns without timestamps never
// force a split.
func (p *Parser) splitEpisodes(turns []model.Turn, project, sourceFile string) []model.Conversation {
	if len(turns) == 0 {
		return nil
	}

	var out []model.Conversation
	start := 0
	lastTS := time.Time{}
	for i, t := range turns {
		if t.Timestamp.IsZero() {
			continue
		}
		if !lastTS.IsZero() && t.Timestamp.Sub(lastTS) > p.episodeGap && i > start {
			out = append(out, p.conversation(turns[start:i], project, sourceFile))
			start = i
		}
		lastTS = t.Timestamp
	}
	out = append(out, p.conversation(turns[start:], project, sourceFile))

	// Drop episodes with no usable content.
	kept := out[:0]
	for _, c := range out {
		if !c.IsEmpty() {
			kept = append(kept, c)
		}
	}
	return kept
}

func (p *Parser) conversation(turns []model.Turn, project, sourceFile string) model.Conversation {
	c := model.Conversation{
		Project:    project,
		Turns:      turns,
		SourceFile: sourceFile,
	}
	for _, t := range turns {
		if !t.Timestamp.IsZero() {
			c.SessionTimestamp = t.Timestamp
			break
		}
	}
	return c
}
