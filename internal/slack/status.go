package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// statusTimeout bounds a single setStatus call.
const statusTimeout = 5 * time.Second

// StatusAPI is the subset of the Web API the status notifier calls.
type StatusAPI interface {
	SetThreadStatus(ctx context.Context, channel, threadTS, status string) error
}

type threadKey struct {
	channel  string
	threadTS string
}

// StatusNotifier sets the assistant thread status ("is thinking...")
// without blocking the caller. A single worker sends updates in the
// order threads first asked. While a thread waits, newer text replaces
// older, so a burst collapses to its latest value and a clear is never
// lost. Failures are logged and dropped.
type StatusNotifier struct {
	api    StatusAPI
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	order   []threadKey
	pending map[threadKey]string
	wake    chan struct{}
	done    chan struct{}
}

// NewStatusNotifier creates a notifier and starts its worker. Call
// Close to drain it.
func NewStatusNotifier(api StatusAPI, logger *slog.Logger) *StatusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &StatusNotifier{
		api:     api,
		logger:  logger.With("component", "slack_status"),
		pending: make(map[threadKey]string),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// SetStatus queues a status update for the turn's thread. An empty
// text clears the status.
func (n *StatusNotifier) SetStatus(tc *ConversationContext, text string) {
	if tc == nil {
		return
	}
	key := threadKey{channel: tc.ChannelID, threadTS: tc.ThreadTS}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if prev, ok := n.pending[key]; ok {
		n.logger.Log(context.Background(), levelTrace, "status superseded",
			"thread_ts", tc.ThreadTS, "status", prev)
	} else {
		n.order = append(n.order, key)
	}
	n.pending[key] = text
	n.mu.Unlock()
	n.signal()
}

// Clear removes the thread status.
func (n *StatusNotifier) Clear(tc *ConversationContext) {
	n.SetStatus(tc, "")
}

// Close stops accepting updates and waits for queued ones to be sent.
func (n *StatusNotifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
	<-n.done
}

func (n *StatusNotifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest waiting thread. ok is false when nothing waits.
func (n *StatusNotifier) next() (key threadKey, text string, ok, closed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.order) == 0 {
		return threadKey{}, "", false, n.closed
	}
	key = n.order[0]
	n.order = n.order[1:]
	text = n.pending[key]
	delete(n.pending, key)
	return key, text, true, n.closed
}

func (n *StatusNotifier) run() {
	defer close(n.done)
	for {
		key, text, ok, closed := n.next()
		if !ok {
			if closed {
				return
			}
			<-n.wake
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		err := n.api.SetThreadStatus(ctx, key.channel, key.threadTS, text)
		cancel()
		if err != nil {
			n.logger.Debug("failed to set thread status",
				"channel", key.channel, "thread_ts", key.threadTS, "status", text, "error", err)
		}
	}
}
