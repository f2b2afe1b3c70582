package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are Kyle."},
		{Role: RoleSystem, Content: "This is the conversation history: []"},
		{Role: RoleUser, Content: "add inception"},
		{Role: RoleAssistant, Content: "Sure."},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are Kyle.\n\nThis is the conversation history: []" {
		t.Errorf("unexpected system prompt %q", system)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropic_MergesToolResults(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "what's downloading and what's new?"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: FunctionCall{Name: "getTorrents", Arguments: map[string]any{"filter": "downloading"}}},
				{ID: "toolu_2", Function: FunctionCall{Name: "getCalendar"}},
			},
		},
		{Role: RoleTool, Content: `{"ok":[]}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"ok":[]}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 || blocks[0].Type != "tool_use" {
		t.Fatalf("assistant content = %#v", result[1].Content)
	}
	if input, _ := blocks[1].Input.(map[string]any); input == nil {
		t.Error("nil arguments should become an empty object")
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool results not merged: %#v", result[2].Content)
	}
	if results[1].ToolUseID != "toolu_2" {
		t.Errorf("second result id = %q", results[1].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []ToolDef{
		{Name: "addMovie", Description: "Add a movie", Parameters: map[string]any{"type": "object"}},
		{Name: "getMovieQueue", Description: "Queue"},
	}
	got := convertToolsToAnthropic(tools)
	if len(got) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(got))
	}
	if got[1].InputSchema == nil {
		t.Error("missing parameters should get an empty object schema")
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("no tools should serialize as nil")
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model:      "claude-3-5-haiku-latest",
		StopReason: "tool_use",
		Content: []anthropicContent{
			{Type: "text", Text: "Adding it now."},
			{Type: "tool_use", ID: "toolu_x", Name: "addMovie", Input: map[string]any{"tmdbId": float64(27205)}},
		},
		Usage: anthropicUsage{InputTokens: 10, OutputTokens: 5},
	}
	got := convertFromAnthropic(resp)
	if got.Message.Content != "Adding it now." {
		t.Errorf("content = %q", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].Function.Name != "addMovie" {
		t.Fatalf("tool calls = %+v", got.Message.ToolCalls)
	}
	if got.StopReason != "tool_calls" {
		t.Errorf("stop reason = %q", got.StopReason)
	}
}

func TestAnthropicClient_Streaming(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"model":"claude-3-5-haiku-latest","usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"On "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"it."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"addMovie"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"tmdbId\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"27205}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":7}}`,
		`{"type":"message_stop"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			t.Errorf("bad request: %v stream=%v", err, req.Stream)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, nil)
	var tokens []string
	var toolEvents int
	resp, err := c.ChatStream(context.Background(), "claude-3-5-haiku-latest",
		[]Message{{Role: RoleUser, Content: "add inception"}}, nil,
		func(ev StreamEvent) {
			switch ev.Kind {
			case KindToken:
				tokens = append(tokens, ev.Token)
			case KindToolCall:
				toolEvents++
			}
		})
	if err != nil {
		t.Fatalf("ChatStream error: %v", err)
	}
	if strings.Join(tokens, "") != "On it." {
		t.Errorf("tokens = %q", tokens)
	}
	if toolEvents != 1 {
		t.Errorf("tool events = %d, want 1", toolEvents)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Function.Arguments["tmdbId"] != float64(27205) {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, nil)
	_, err := c.Chat(context.Background(), "claude-3-5-haiku-latest", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*MultiClient)(nil)
}
