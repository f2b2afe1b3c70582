package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrStreamStopped is returned when appending to a reply that has
// already been finalized.
var ErrStreamStopped = errors.New("stream already stopped")

// StreamAPI is the subset of the Web API the stream controller drives.
type StreamAPI interface {
	StartStream(ctx context.Context, p StartStreamParams) (string, error)
	AppendStream(ctx context.Context, channel, ts, markdown string) error
	StopStream(ctx context.Context, channel, ts, markdown string, blocks []Block) error
	PostMessage(ctx context.Context, p PostMessageParams) (string, error)
}

// Streamer owns the reply lifecycle of a turn. The first Append opens a
// streaming message; Stop finalizes it with any queued blocks, or posts
// an ordinary message if no stream was ever opened. Text that fails to
// stream is kept on the context and delivered by Stop.
type Streamer struct {
	api           StreamAPI
	emptyFallback string
	logger        *slog.Logger
}

// NewStreamer creates a stream controller. emptyFallback is posted when
// a turn ends with neither text nor blocks.
func NewStreamer(api StreamAPI, emptyFallback string, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		api:           api,
		emptyFallback: emptyFallback,
		logger:        logger.With("component", "slack_stream"),
	}
}

// EnsureStarted opens the stream if the turn is still idle.
func (s *Streamer) EnsureStarted(ctx context.Context, tc *ConversationContext) error {
	tc.streamMu.Lock()
	defer tc.streamMu.Unlock()
	return s.ensureStarted(ctx, tc)
}

func (s *Streamer) ensureStarted(ctx context.Context, tc *ConversationContext) error {
	switch tc.State() {
	case StreamStarted:
		return nil
	case StreamStopped:
		return ErrStreamStopped
	}

	ts, err := s.api.StartStream(ctx, StartStreamParams{
		Channel:         tc.ChannelID,
		ThreadTS:        tc.ThreadTS,
		RecipientTeamID: tc.TeamID,
		RecipientUserID: tc.UserID,
	})
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	tc.mu.Lock()
	tc.state = StreamStarted
	tc.streamTS = ts
	tc.mu.Unlock()

	s.logger.Log(ctx, levelTrace, "stream started",
		"channel", tc.ChannelID, "thread_ts", tc.ThreadTS, "stream_ts", ts)
	return nil
}

// Append streams text to the reply, opening the stream on first use.
// If the stream cannot be opened or the append fails, the text is kept
// for Stop and the error is returned for logging only.
func (s *Streamer) Append(ctx context.Context, tc *ConversationContext, text string) error {
	if text == "" {
		return nil
	}
	tc.streamMu.Lock()
	defer tc.streamMu.Unlock()

	if tc.State() == StreamStopped {
		return ErrStreamStopped
	}

	if err := s.ensureStarted(ctx, tc); err != nil {
		s.buffer(tc, text)
		return err
	}

	// Earlier text that failed to stream goes first to keep order.
	chunk := s.takePending(tc) + text
	if err := s.api.AppendStream(ctx, tc.ChannelID, tc.StreamTS(), chunk); err != nil {
		s.buffer(tc, chunk)
		return fmt.Errorf("append stream: %w", err)
	}
	return nil
}

// Stop finalizes the reply exactly once. Later calls are no-ops.
//
// With an open stream, pending text and queued blocks are sent with
// stopStream; if that fails they are posted as a normal message. With
// no stream, a single message is posted, falling back to the empty
// response text when there is nothing else to say.
func (s *Streamer) Stop(ctx context.Context, tc *ConversationContext) error {
	tc.streamMu.Lock()
	defer tc.streamMu.Unlock()

	state := tc.State()
	if state == StreamStopped {
		return nil
	}

	text := s.takePending(tc)
	blocks := tc.Blocks()

	tc.mu.Lock()
	tc.state = StreamStopped
	streamTS := tc.streamTS
	tc.mu.Unlock()

	if state == StreamStarted {
		err := s.api.StopStream(ctx, tc.ChannelID, streamTS, text, blocks)
		tc.mu.Lock()
		tc.streamTS = ""
		tc.mu.Unlock()
		if err == nil {
			s.logger.Log(ctx, levelTrace, "stream stopped",
				"channel", tc.ChannelID, "thread_ts", tc.ThreadTS, "blocks", len(blocks))
			return nil
		}
		s.logger.Warn("failed to stop stream, posting remainder",
			"channel", tc.ChannelID, "thread_ts", tc.ThreadTS, "error", err)
		if text == "" && len(blocks) == 0 {
			return fmt.Errorf("stop stream: %w", err)
		}
		return s.post(ctx, tc, text, blocks)
	}

	if strings.TrimSpace(text) == "" && len(blocks) == 0 {
		text = s.emptyFallback
	}
	return s.post(ctx, tc, text, blocks)
}

func (s *Streamer) post(ctx context.Context, tc *ConversationContext, text string, blocks []Block) error {
	mrkdwn := MarkdownToMrkdwn(text)
	if len(blocks) > 0 && mrkdwn != "" {
		// Slack renders only the blocks when both are present.
		lead := Block{Type: "section", Text: &TextObject{Type: "mrkdwn", Text: truncate(mrkdwn, 3000)}}
		blocks = append([]Block{lead}, blocks...)
	}
	if mrkdwn == "" && len(blocks) > 0 {
		mrkdwn = blockFallbackText(blocks)
	}
	_, err := s.api.PostMessage(ctx, PostMessageParams{
		Channel:  tc.ChannelID,
		ThreadTS: tc.ThreadTS,
		Text:     mrkdwn,
		Blocks:   blocks,
	})
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

func (s *Streamer) buffer(tc *ConversationContext, text string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.pending.WriteString(text)
}

func (s *Streamer) takePending(tc *ConversationContext) string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	text := tc.pending.String()
	tc.pending.Reset()
	return text
}

// blockFallbackText is the notification text for a blocks-only message.
func blockFallbackText(blocks []Block) string {
	for _, b := range blocks {
		if b.Text != nil && b.Text.Text != "" {
			first, _, _ := strings.Cut(b.Text.Text, "\n")
			return first
		}
	}
	return "New message"
}
