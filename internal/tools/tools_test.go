package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/slack"
)

type recordedCall struct {
	convID string
	tool   string
	input  any
	result any
	ref    *history.MediaRef
}

type fakeRecorder struct {
	mu      sync.Mutex
	convErr error
	calls   []recordedCall
}

func (f *fakeRecorder) GetOrCreateConversation(_ context.Context, threadTS, _, _ string) (string, error) {
	if f.convErr != nil {
		return "", f.convErr
	}
	return "conv-" + threadTS, nil
}

func (f *fakeRecorder) Record(_ context.Context, convID, tool string, input, result any, ref *history.MediaRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{convID, tool, input, result, ref})
	return nil
}

type fakeStatus struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeStatus) SetStatus(_ *slack.ConversationContext, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, text)
}

func addMovieTool(handler Handler) *Tool {
	return &Tool{
		Name:        "addMovie",
		Description: "Add a movie to Radarr",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tmdbId": map[string]any{"type": "integer"},
			},
			"required": []string{"tmdbId"},
		},
		Status:  "is adding a movie...",
		Handler: handler,
	}
}

func newTurn() *slack.ConversationContext {
	return slack.NewConversationContext("C1", "1.0", "T1", "U1")
}

func TestRegistry_ExecuteSuccessRecordsReference(t *testing.T) {
	rec := &fakeRecorder{}
	status := &fakeStatus{}
	bus := events.New()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	r := NewRegistry(nil)
	r.SetRecorder(rec)
	r.SetStatusNotifier(status)
	r.SetEventBus(bus)
	r.Register(addMovieTool(func(_ context.Context, call *Call) (any, error) {
		id, err := call.Args.RequireInt("tmdbId")
		if err != nil {
			return nil, err
		}
		call.Reference(history.MediaRef{
			Kind:   history.MediaMovie,
			Action: history.ActionAdd,
			IDs:    map[string]int{"tmdbId": id, "radarrId": 7},
			Title:  "Inception",
		})
		return map[string]any{"id": 7, "title": "Inception"}, nil
	}))

	res := r.Execute(context.Background(), newTurn(), "addMovie", map[string]any{"tmdbId": float64(27205)})

	require.False(t, res.Failed())
	assert.JSONEq(t, `{"ok":{"id":7,"title":"Inception"}}`, res.String())
	assert.Equal(t, []string{"is adding a movie..."}, status.seen)

	require.Len(t, rec.calls, 1)
	call := rec.calls[0]
	assert.Equal(t, "conv-1.0", call.convID)
	assert.Equal(t, "addMovie", call.tool)
	require.NotNil(t, call.ref)
	assert.Equal(t, 27205, call.ref.IDs["tmdbId"])

	assert.Equal(t, events.KindToolCall, (<-sub).Kind)
	done := <-sub
	assert.Equal(t, events.KindToolDone, done.Kind)
	assert.Equal(t, true, done.Data["ok"])
}

func TestRegistry_HandlerErrorDropsReference(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewRegistry(nil)
	r.SetRecorder(rec)
	r.Register(addMovieTool(func(_ context.Context, call *Call) (any, error) {
		call.Reference(history.MediaRef{Kind: history.MediaMovie, Action: history.ActionAdd, IDs: map[string]int{"tmdbId": 1}})
		return nil, errors.New("radarr: movie already exists")
	}))

	res := r.Execute(context.Background(), newTurn(), "addMovie", map[string]any{"tmdbId": float64(1)})

	assert.True(t, res.Failed())
	assert.JSONEq(t, `{"error":"radarr: movie already exists"}`, res.String())
	require.Len(t, rec.calls, 1)
	assert.Nil(t, rec.calls[0].ref)
	assert.Nil(t, rec.calls[0].result)
}

func TestRegistry_InvalidArgumentsNeverReachHandler(t *testing.T) {
	called := false
	r := NewRegistry(nil)
	r.Register(addMovieTool(func(context.Context, *Call) (any, error) {
		called = true
		return nil, nil
	}))

	res := r.Execute(context.Background(), newTurn(), "addMovie", map[string]any{"tmdbId": "abc"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "tmdbId: expected integer, got string")

	res = r.Execute(context.Background(), newTurn(), "addMovie", nil)
	assert.Contains(t, res.Error, "tmdbId: is required")
	assert.False(t, called)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Execute(context.Background(), newTurn(), "launchRocket", nil)
	assert.Equal(t, `tool "launchRocket" is not available`, res.Error)
}

func TestRegistry_PanicBecomesError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(addMovieTool(func(context.Context, *Call) (any, error) {
		panic("nil map")
	}))

	res := r.Execute(context.Background(), newTurn(), "addMovie", map[string]any{"tmdbId": float64(1)})
	assert.Equal(t, "tool addMovie crashed: nil map", res.Error)
}

func TestRegistry_RecorderFailureIsSwallowed(t *testing.T) {
	rec := &fakeRecorder{convErr: errors.New("disk full")}
	r := NewRegistry(nil)
	r.SetRecorder(rec)
	r.Register(addMovieTool(func(context.Context, *Call) (any, error) { return "ok", nil }))

	res := r.Execute(context.Background(), newTurn(), "addMovie", map[string]any{"tmdbId": float64(1)})
	assert.False(t, res.Failed())
	assert.Empty(t, rec.calls)
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "searchMovies", Description: "b"})
	r.Register(&Tool{Name: "addMovie", Description: "a"})

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "addMovie", defs[0].Name)
	assert.Equal(t, "searchMovies", defs[1].Name)
	assert.Equal(t, []string{"addMovie", "searchMovies"}, r.Names())
}

func TestRegistry_NilTurnSkipsHistoryAndStatus(t *testing.T) {
	rec := &fakeRecorder{}
	status := &fakeStatus{}
	r := NewRegistry(nil)
	r.SetRecorder(rec)
	r.SetStatusNotifier(status)
	r.Register(addMovieTool(func(context.Context, *Call) (any, error) { return 1, nil }))

	res := r.Execute(context.Background(), nil, "addMovie", map[string]any{"tmdbId": float64(1)})
	assert.False(t, res.Failed())
	assert.Empty(t, rec.calls)
	assert.Empty(t, status.seen)
}
