package extract

import (
	"fmt"
	"strings"

	"github.com/continuumhq/continuum/internal/model"
)

// promptVersion participates in the response cache key; bump when a template
// changes so stale cached extractions are not served.
const promptVersion = "v3"

const extractionSystemPrompt = `You are a decision-extraction engine. You read a software development conversation and emit the architectural and technical decisions made in it.

Return ONLY a JSON array. Each element:
{
  "trigger": "what prompted the decision",
  "context": "relevant background",
  "decision": "what was decided",
  "rationale": "why",
  "options": ["considered option", ...],
  "confidence": 0.0-1.0,
  "scope": "tactical" | "strategic" | "architectural",
  "assumptions": ["stated assumption", ...],
  "entities": [{"name": "...", "type": "technology|concept|pattern|system", "role": "chosen|rejected|considered|mentioned"}]
}

Rules:
- Only include genuine decisions, not questions or speculation.
- "options" must include the chosen option and any rejected ones.
- Quote decision and trigger text verbatim from the conversation when possible.
- Return [] when the conversation contains no decisions.`

const summarizationSystemPrompt = `You compress a software development conversation while preserving decision-relevant content.

Rules:
- Keep every decision, choice, trade-off, and constraint.
- Preserve VERBATIM any sentence that states a decision or a hard constraint, in double quotes.
- Drop greetings, tool output dumps, and repeated content.
- Output plain text, at most half the input length.`

const pairedAnalysisSystemPrompt = `You compare two software decisions made by the same person at different times and classify their relationship.

Return ONLY a JSON object:
{"relationship": "SUPERSEDES" | "CONTRADICTS" | "SIMILAR_TO" | "UNRELATED", "confidence": 0.0-1.0, "reasoning": "one sentence"}

Definitions:
- SUPERSEDES: the newer decision replaces the older one for the same question.
- CONTRADICTS: both stand but disagree; neither replaces the other.
- SIMILAR_TO: same topic, compatible conclusions.
- UNRELATED: different concerns.`

// buildExtractionPrompt renders the conversation as the user message for the
// extraction call. Each turn's content has already been sanitized.
func buildExtractionPrompt(c model.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\n", c.Project)
	for i, t := range c.Turns {
		fmt.Fprintf(&b, "[turn %d] %s: %s\n", i, t.Role, t.Content)
	}
	return b.String()
}

// buildPairedAnalysisPrompt renders the newer/older decision pair.
func buildPairedAnalysisPrompt(newer, older model.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NEWER decision (%s):\n%s\nRationale: %s\n\n",
		newer.CreatedAt.Format("2006-01-02"), newer.AgentDecision, newer.AgentRationale)
	fmt.Fprintf(&b, "OLDER decision (%s):\n%s\nRationale: %s\n",
		older.CreatedAt.Format("2006-01-02"), older.AgentDecision, older.AgentRationale)
	return b.String()
}
