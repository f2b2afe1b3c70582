package slack

import (
	"context"
	"errors"
	"sync"
)

// fakeAPI records Web API calls and lets tests inject failures.
type fakeAPI struct {
	mu sync.Mutex

	replies    []Message
	repliesErr error
	users      map[string]*User
	userCalls  int

	startErr  error
	appendErr error
	stopErr   error
	postErr   error

	starts   []StartStreamParams
	appends  []string
	stops    []stopCall
	posts    []PostMessageParams
	statuses []string
	// threadStatuses records "threadTS=status" for each status call.
	threadStatuses []string
	// statusGate, when set, holds every status call until it receives.
	statusGate chan struct{}
}

type stopCall struct {
	ts       string
	markdown string
	blocks   []Block
}

var errFake = errors.New("fake failure")

func newFakeAPI() *fakeAPI {
	return &fakeAPI{users: map[string]*User{}}
}

func (f *fakeAPI) Replies(_ context.Context, _, _ string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	if len(f.replies) > limit {
		return f.replies[len(f.replies)-limit:], nil
	}
	return f.replies, nil
}

func (f *fakeAPI) UserInfo(_ context.Context, userID string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	u, ok := f.users[userID]
	if !ok {
		return nil, &APIError{Method: "users.info", StatusCode: 200, Code: "user_not_found"}
	}
	return u, nil
}

func (f *fakeAPI) StartStream(_ context.Context, p StartStreamParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts = append(f.starts, p)
	return "1700000000.000100", nil
}

func (f *fakeAPI) AppendStream(_ context.Context, _, _, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appends = append(f.appends, markdown)
	return nil
}

func (f *fakeAPI) StopStream(_ context.Context, _, ts, markdown string, blocks []Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops = append(f.stops, stopCall{ts: ts, markdown: markdown, blocks: blocks})
	return nil
}

func (f *fakeAPI) PostMessage(_ context.Context, p PostMessageParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posts = append(f.posts, p)
	return "1700000000.000200", nil
}

func (f *fakeAPI) SetThreadStatus(_ context.Context, _, threadTS, status string) error {
	if f.statusGate != nil {
		<-f.statusGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.threadStatuses = append(f.threadStatuses, threadTS+"="+status)
	return nil
}

func (f *fakeAPI) setFailure(field *error, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*field = err
}

func (f *fakeAPI) snapshot() fakeAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeAPI{
		starts:   append([]StartStreamParams(nil), f.starts...),
		appends:  append([]string(nil), f.appends...),
		stops:    append([]stopCall(nil), f.stops...),
		posts:    append([]PostMessageParams(nil), f.posts...),
		statuses: append([]string(nil), f.statuses...),

		threadStatuses: append([]string(nil), f.threadStatuses...),
	}
}
