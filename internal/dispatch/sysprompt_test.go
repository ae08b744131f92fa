package dispatch

import (
	"strings"
	"testing"
)

func TestComposeSystemPrompt_Empty(t *testing.T) {
	if got := ComposeSystemPrompt("", nil); got != "" {
		t.Errorf("expected no system prompt, got %q", got)
	}
	if got := ComposeSystemPrompt("   ", nil); got != "" {
		t.Errorf("whitespace guidance must compose nothing, got %q", got)
	}
}

func TestComposeSystemPrompt_GuidanceAndFindings(t *testing.T) {
	findings := []Finding{
		{Title: "Go 1.24 released", Snippet: "The release adds generics improvements.", URL: "https://go.dev/blog/go1.24"},
		{Title: "Benchmarks", Snippet: "Numbers went up.", URL: "https://example.com/bench"},
	}
	got := ComposeSystemPrompt("Prefer concise answers.", findings)

	if !strings.HasPrefix(got, framingSentence) {
		t.Error("missing framing sentence")
	}
	if !strings.Contains(got, "Prefer concise answers.") {
		t.Error("guidance must appear verbatim")
	}
	for _, want := range []string{"[S1] Go 1.24 released", "[S2] Benchmarks", "https://go.dev/blog/go1.24", "https://example.com/bench"} {
		if !strings.Contains(got, want) {
			t.Errorf("composed prompt missing %q", want)
		}
	}
	if !strings.Contains(got, citationInstruction) {
		t.Error("missing citation instruction")
	}
}

func TestComposeSystemPrompt_GuidanceOnly(t *testing.T) {
	got := ComposeSystemPrompt("stay on topic", nil)
	if !strings.Contains(got, "stay on topic") {
		t.Error("guidance missing")
	}
	if strings.Contains(got, "[S1]") || strings.Contains(got, citationInstruction) {
		t.Error("no findings were supplied, citation block must be absent")
	}
}
