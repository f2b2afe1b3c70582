package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nugget/kyle/internal/history"
)

// runHistory prints the tool calls recorded for one Slack thread, in
// the same form the agent sees them, or as JSON.
func runHistory(ctx context.Context, w io.Writer, configPath, outputFmt, channelID, threadTS string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history database %s: %w", cfg.History.Path, err)
	}
	defer store.Close()

	calls, err := store.History(ctx, threadTS, channelID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if outputFmt == "json" {
		if calls == nil {
			calls = []history.ToolCall{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(calls)
	}
	if len(calls) == 0 {
		fmt.Fprintf(w, "No tool calls recorded for thread %s in %s\n", threadTS, channelID)
		return nil
	}
	fmt.Fprintln(w, history.FormatForPrompt(calls))
	return nil
}
