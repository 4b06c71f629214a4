package model

import "time"

// Role is a conversation turn role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall references a tool invocation made during a turn.
// FilePath is set for file-touching tools (edit, write, read).
type ToolCall struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path,omitempty"`
}

// Turn is a single message within a conversation.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Conversation is an ordered sequence of turns from one session episode.
type Conversation struct {
	Project          string    `json:"project"`
	SessionTimestamp time.Time `json:"session_timestamp"`
	Turns            []Turn    `json:"turns"`
	SourceFile       string    `json:"source_file,omitempty"`
}

// IsEmpty reports whether the conversation has no content worth extracting.
func (c Conversation) IsEmpty() bool {
	for _, t := range c.Turns {
		if len(t.Content) > 0 {
			return false
		}
	}
	return true
}

// ToolFilePaths returns the distinct file paths touched by tool calls,
// in first-seen order.
func (c Conversation) ToolFilePaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.Turns {
		for _, tc := range t.ToolCalls {
			if tc.FilePath == "" || seen[tc.FilePath] {
				continue
			}
			seen[tc.FilePath] = true
			out = append(out, tc.FilePath)
		}
	}
	return out
}

// DecisionDraft is a decision in its pre-graph form: full decision fields plus
// candidate entity mentions as free text. Produced by the extractor, consumed
// by the graph writer after entity resolution.
type DecisionDraft struct {
	Decision Decision        `json:"decision"`
	Mentions []EntityMention `json:"mentions"`
}
