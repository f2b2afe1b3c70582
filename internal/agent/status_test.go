package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/prompts"
	"github.com/nugget/kyle/internal/usage"
)

func TestLLMStatus_Generate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  string
	}{
		{"accepted", "is spelunking...", nil, "is spelunking..."},
		{"quotes trimmed", `"is summoning..."`, nil, "is summoning..."},
		{"noun first", "is popcorn popping...", nil, prompts.StatusFallbacks[1]},
		{"wrong form", "Working on it!", nil, prompts.StatusFallbacks[1]},
		{"multi line", "is cooking...\nis brewing...", nil, prompts.StatusFallbacks[1]},
		{"model error", "", errors.New("timeout"), prompts.StatusFallbacks[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{err: tt.err, responses: []*llm.ChatResponse{{Message: llm.Message{Content: tt.reply}, InputTokens: 40, OutputTokens: 4}}}
			rec := &fakeUsage{}
			g := NewLLMStatus(mock, "small-model", "openai", rec, nil)
			g.pick = func(int) int { return 1 }

			if got := g.Generate(context.Background(), newTurn(), "find me some anime"); got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}

			if tt.err == nil {
				if len(rec.recs) != 1 || rec.recs[0].Role != usage.RoleStatus || rec.recs[0].Model != "small-model" {
					t.Errorf("usage = %+v", rec.recs)
				}
			}
		})
	}
}

func TestLLMStatus_PromptCarriesMessage(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{{Message: llm.Message{Content: "is fetching..."}}}}
	g := NewLLMStatus(mock, "small-model", "openai", nil, nil)

	g.Generate(context.Background(), newTurn(), "add dune part two")

	if len(mock.calls) != 1 || len(mock.calls[0]) != 1 {
		t.Fatalf("calls = %+v", mock.calls)
	}
	if got := mock.calls[0][0].Content; got != prompts.StatusPrompt("add dune part two") {
		t.Errorf("prompt = %q", got)
	}
}

func TestStaticStatus(t *testing.T) {
	if got := (StaticStatus{}).Generate(context.Background(), newTurn(), "x"); got != prompts.StaticStatus {
		t.Errorf("Generate() = %q", got)
	}
}

// hangingLLM never answers; Chat returns only when its context ends.
type hangingLLM struct{ mockLLM }

func (h *hangingLLM) Chat(ctx context.Context, _ string, _ []llm.Message, _ []llm.ToolDef) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// statusGatedLLM holds the first model call until the status has been
// replaced, so the generated status lands while the turn is running.
type statusGatedLLM struct {
	*mockLLM
	status *fakeStatus
}

func (g *statusGatedLLM) ChatStream(ctx context.Context, model string, msgs []llm.Message, td []llm.ToolDef, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.status.mu.Lock()
		n := len(g.status.seen)
		g.status.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return g.mockLLM.ChatStream(ctx, model, msgs, td, cb)
}

func TestTurn_SlowStatusModelDoesNotDelayReply(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("On it.")}}
	tl := buildTestLoop(mock, 0)
	tl.loop.statusGen = NewLLMStatus(&hangingLLM{}, "small-model", "openai", nil, nil)

	start := time.Now()
	res := tl.loop.Turn(context.Background(), newTurn(), newMessage("add dune"))
	elapsed := time.Since(start)

	if res.Err != nil {
		t.Fatalf("Turn() error: %v", res.Err)
	}
	if elapsed >= statusTimeout/2 {
		t.Errorf("Turn() took %s with a hanging status model", elapsed)
	}
	if mock.callCount() != 1 || tl.streamer.text() != "On it." {
		t.Errorf("calls = %d, streamed %q", mock.callCount(), tl.streamer.text())
	}

	tl.status.mu.Lock()
	defer tl.status.mu.Unlock()
	if len(tl.status.seen) != 1 || tl.status.seen[0] != prompts.StaticStatus {
		t.Errorf("status = %v, want only %q after the turn ended", tl.status.seen, prompts.StaticStatus)
	}
}

func TestTurn_GeneratedStatusReplacesStatic(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Done.")}}
	tl := buildTestLoop(mock, 0)
	tl.loop.llm = &statusGatedLLM{mockLLM: mock, status: tl.status}
	statusModel := &mockLLM{responses: []*llm.ChatResponse{{Message: llm.Message{Content: "is spelunking..."}}}}
	tl.loop.statusGen = NewLLMStatus(statusModel, "small-model", "openai", nil, nil)

	if res := tl.loop.Turn(context.Background(), newTurn(), newMessage("find caves")); res.Err != nil {
		t.Fatalf("Turn() error: %v", res.Err)
	}

	tl.status.mu.Lock()
	defer tl.status.mu.Unlock()
	want := []string{prompts.StaticStatus, "is spelunking..."}
	if len(tl.status.seen) != 2 || tl.status.seen[0] != want[0] || tl.status.seen[1] != want[1] {
		t.Errorf("status = %v, want %v", tl.status.seen, want)
	}
}
