package slack

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botID = "UBOT"

func TestContextBuilder_Build(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &User{ID: "U1", Name: "alice", Profile: UserProfile{DisplayName: "Alice"}}
	api.users["U2"] = &User{ID: "U2", Name: "bob", RealName: "Bob Smith"}
	api.replies = []Message{
		{TS: "1.0", Subtype: subtypeAssistantThread, Text: "assistant thread"},
		{TS: "1.1", User: "U1", Text: "<@UBOT> add <@U2|bob>'s favourite film"},
		{TS: "1.2", User: botID, BotID: "B1", Text: "Which one?"},
		{TS: "1.3", User: "U1", Text: ""},
	}
	b := NewContextBuilder(api, botID, "Kyle", 20, nil)

	ev := &MessageEvent{Type: "message", User: "U1", Text: "<@UBOT> Inception, for <@U2>", Channel: "C1", TS: "1.4"}
	got := b.Build(context.Background(), "C1", "1.1", ev)

	assert.Equal(t, "@<Kyle> Inception, for @<Bob Smith>", got.Text)
	assert.Equal(t, Author{ID: "U1", Username: "Alice"}, got.Author)
	require.Len(t, got.History, 3)
	assert.Equal(t, "@<Kyle> add @<Bob Smith>'s favourite film", got.History[0].Text)
	assert.Equal(t, Author{ID: botID, Username: "Kyle"}, got.History[1].Author)
	assert.Equal(t, "Which one?", got.History[1].Text)
	assert.Equal(t, emptyMessageText, got.History[2].Text)
}

func TestContextBuilder_UnresolvedUsersKeepID(t *testing.T) {
	api := newFakeAPI()
	api.replies = []Message{{TS: "1.1", User: "UGONE", Text: "hello <@UOTHER>"}}
	b := NewContextBuilder(api, botID, "Kyle", 20, nil)

	ev := &MessageEvent{User: "UGONE", Text: "again"}
	got := b.Build(context.Background(), "C1", "1.1", ev)

	assert.Equal(t, Author{ID: "UGONE", Username: "UGONE"}, got.Author)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hello @<UOTHER>", got.History[0].Text)
}

func TestContextBuilder_HistoryFailureDegrades(t *testing.T) {
	api := newFakeAPI()
	api.repliesErr = errFake
	b := NewContextBuilder(api, botID, "Kyle", 20, nil)

	ev := &MessageEvent{User: "U1", Text: "<@UBOT> hi"}
	got := b.Build(context.Background(), "C1", "1.1", ev)

	assert.Equal(t, "@<Kyle> hi", got.Text)
	assert.NotNil(t, got.History)
	assert.Empty(t, got.History)
	assert.Zero(t, api.userCalls)
}

func TestContextBuilder_LooksUpEachUserOnce(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &User{ID: "U1", Name: "alice"}
	api.replies = []Message{
		{TS: "1.1", User: "U1", Text: "one"},
		{TS: "1.2", User: "U1", Text: "two <@U1>"},
	}
	b := NewContextBuilder(api, botID, "Kyle", 20, nil)

	b.Build(context.Background(), "C1", "1.1", &MessageEvent{User: "U1", Text: "three"})
	assert.Equal(t, 1, api.userCalls)
}

func TestContextBuilder_KeepsRecentHistory(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &User{ID: "U1", Name: "alice"}
	for i := range 6 {
		api.replies = append(api.replies, Message{TS: fmt.Sprintf("1.%d", i), User: "U1", Text: fmt.Sprintf("m%d", i)})
	}
	b := NewContextBuilder(api, botID, "Kyle", 3, nil)

	got := b.Build(context.Background(), "C1", "1.0", &MessageEvent{User: "U1", Text: "m5"})
	require.Len(t, got.History, 3)
	assert.Equal(t, []string{"m3", "m4", "m5"}, []string{got.History[0].Text, got.History[1].Text, got.History[2].Text})
}

func TestContextBuilder_UnknownAuthor(t *testing.T) {
	api := newFakeAPI()
	api.replies = []Message{{TS: "1.1", Text: "system note"}}
	b := NewContextBuilder(api, botID, "Kyle", 20, nil)

	got := b.Build(context.Background(), "C1", "1.1", &MessageEvent{User: "U1", Text: "x"})
	require.Len(t, got.History, 1)
	assert.Equal(t, unknownAuthor, got.History[0].Author.Username)
}

func TestRewriteMentionsIdempotent(t *testing.T) {
	names := map[string]string{"U1": "Alice"}
	once := rewriteMentions("hi <@U1> and <@U1|alice>", names)
	assert.Equal(t, "hi @<Alice> and @<Alice>", once)
	assert.Equal(t, once, rewriteMentions(once, names))
}

func TestUserDisplayNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"display name", User{ID: "U", Name: "n", RealName: "R", Profile: UserProfile{DisplayName: "D", RealName: "PR"}}, "D"},
		{"profile real name", User{ID: "U", Name: "n", RealName: "R", Profile: UserProfile{RealName: "PR"}}, "PR"},
		{"real name", User{ID: "U", Name: "n", RealName: "R"}, "R"},
		{"handle", User{ID: "U", Name: "n"}, "n"},
		{"id", User{ID: "U"}, "U"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.DisplayName())
		})
	}
}
