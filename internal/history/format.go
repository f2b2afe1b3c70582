package history

import (
	"strings"
)

// PromptHeader opens the block of prior tool calls injected into the
// system prompt.
const PromptHeader = "[Previous tool calls in this conversation]"

// promptTimeLayout is ISO 8601 with milliseconds.
const promptTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatForPrompt renders records as the header line followed by one
// line per call:
//
//	[2025-01-01T00:00:00.000Z] addMovie({"tmdbId":27205}) -> {"id":1}
//
// Failed calls end in "no result". No records yields "".
func FormatForPrompt(records []ToolCall) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(PromptHeader)
	for _, r := range records {
		b.WriteString("\n[")
		b.WriteString(r.Timestamp.UTC().Format(promptTimeLayout))
		b.WriteString("] ")
		b.WriteString(r.ToolName)
		b.WriteString("(")
		b.Write(r.Input)
		b.WriteString(") -> ")
		if len(r.Result) == 0 {
			b.WriteString("no result")
		} else {
			b.Write(r.Result)
		}
	}
	return b.String()
}
