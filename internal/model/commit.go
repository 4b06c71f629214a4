package model

import (
	"time"

	"github.com/google/uuid"
)

// CodeEntity is a tracked repository file, keyed by (file_path, user_id).
type CodeEntity struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	FilePath  string     `json:"file_path"` // Relative to the repository root.
	Language  string     `json:"language,omitempty"`
	LineCount int        `json:"line_count,omitempty"`
	SizeBytes int64      `json:"size_bytes,omitempty"`
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}

// Commit is git commit metadata, keyed by SHA.
type Commit struct {
	SHA          string    `json:"sha"`
	ShortSHA     string    `json:"short_sha"`
	Message      string    `json:"message"` // Subject line only, capped at 120 chars.
	Author       string    `json:"author"`
	CommittedAt  time.Time `json:"committed_at"`
	FilesChanged []string  `json:"files_changed"`
	UserID       string    `json:"user_id"`
}

// commitMessageMax caps the stored commit subject length.
const commitMessageMax = 120

// NormalizeMessage trims the commit message to its subject line, capped.
func (c *Commit) NormalizeMessage() {
	for i, r := range c.Message {
		if r == '\n' {
			c.Message = c.Message[:i]
			break
		}
	}
	if len(c.Message) > commitMessageMax {
		c.Message = c.Message[:commitMessageMax]
	}
	if len(c.SHA) >= 7 && c.ShortSHA == "" {
		c.ShortSHA = c.SHA[:7]
	}
}
