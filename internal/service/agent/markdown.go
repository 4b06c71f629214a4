package agent

import (
	"fmt"
	"strings"
)

// renderContextMarkdown produces the markdown view of a context response.
// Layout is stable: agents diff successive responses, so field order and
// headings must not drift.
func renderContextMarkdown(query string, results []ContextResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Decision context: %s\n\n", query)
	if len(results) == 0 {
		b.WriteString("No prior decisions found.\n")
		return b.String()
	}

	for _, r := range results {
		d := r.Decision
		fmt.Fprintf(&b, "## %s\n\n", firstLine(d.AgentDecision))
		fmt.Fprintf(&b, "- **Score:** %.2f\n", r.Score)
		fmt.Fprintf(&b, "- **Confidence:** %.2f\n", d.Confidence)
		fmt.Fprintf(&b, "- **Scope:** %s\n", d.Scope)
		fmt.Fprintf(&b, "- **Date:** %s\n", d.CreatedAt.UTC().Format("2006-01-02"))
		if d.Project != "" {
			fmt.Fprintf(&b, "- **Project:** %s\n", d.Project)
		}
		b.WriteString("\n")

		if d.Trigger != "" {
			fmt.Fprintf(&b, "**Trigger:** %s\n\n", d.Trigger)
		}
		if d.AgentRationale != "" {
			fmt.Fprintf(&b, "**Rationale:** %s\n\n", d.AgentRationale)
		}
		if rejected := d.RejectedOptions(); len(rejected) > 0 {
			b.WriteString("**Rejected options:**\n")
			for _, opt := range rejected {
				fmt.Fprintf(&b, "- %s\n", opt)
			}
			b.WriteString("\n")
		}
		if len(r.Entities) > 0 {
			names := make([]string, len(r.Entities))
			for i, e := range r.Entities {
				names[i] = e.Name
			}
			fmt.Fprintf(&b, "**Entities:** %s\n\n", strings.Join(names, ", "))
		}
		for _, edge := range r.Edges {
			relation := strings.ToLower(strings.ReplaceAll(string(edge.Kind), "_", " "))
			fmt.Fprintf(&b, "> %s %s (confidence %.2f)\n", relation, edge.ToID, edge.Confidence)
		}
		if len(r.Edges) > 0 {
			b.WriteString("\n")
		}
		if len(r.Files) > 0 {
			fmt.Fprintf(&b, "**Files:** %s\n\n", strings.Join(r.Files, ", "))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
