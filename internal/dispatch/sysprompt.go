package dispatch

import (
	"fmt"
	"strings"
)

// Finding is one external search result woven into the shared system prompt.
type Finding struct {
	Title   string
	Snippet string
	URL     string
}

const (
	framingSentence     = "You have been given additional context to help answer the user's question."
	citationInstruction = "When you use information from a source, cite it inline with its label, e.g. [S1]."
)

// ComposeSystemPrompt merges conversation-wide guidance and search findings
// into one instructional preface shared by every provider in a dispatch.
// With neither input it returns the empty string and no system prompt is
// sent upstream.
func ComposeSystemPrompt(guidance string, findings []Finding) string {
	guidance = strings.TrimSpace(guidance)
	if guidance == "" && len(findings) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(framingSentence)

	if guidance != "" {
		b.WriteString("\n\n")
		b.WriteString(guidance)
	}

	if len(findings) > 0 {
		b.WriteString("\n\nSources:")
		for i, f := range findings {
			fmt.Fprintf(&b, "\n[S%d] %s\n%s\nSource: %s", i+1, f.Title, f.Snippet, f.URL)
		}
		b.WriteString("\n\n")
		b.WriteString(citationInstruction)
	}

	return b.String()
}
