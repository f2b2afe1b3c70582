package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatForPrompt(t *testing.T) {
	assert.Equal(t, "", FormatForPrompt(nil))

	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	got := FormatForPrompt([]ToolCall{
		{ToolName: "addMovie", Input: json.RawMessage(`{"tmdbId":27205}`), Result: json.RawMessage(`{"title":"Inception"}`), Timestamp: ts},
		{ToolName: "getMovie", Input: json.RawMessage(`{"id":1}`), Timestamp: ts.Add(time.Second)},
	})

	want := "[Previous tool calls in this conversation]\n" +
		`[2025-03-04T05:06:07.000Z] addMovie({"tmdbId":27205}) -> {"title":"Inception"}` + "\n" +
		`[2025-03-04T05:06:08.000Z] getMovie({"id":1}) -> no result`
	assert.Equal(t, want, got)
}
