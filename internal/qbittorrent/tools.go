package qbittorrent

import (
	"context"
	"fmt"

	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/tools"
)

// Register adds the qBittorrent tools to reg.
func Register(reg *tools.Registry, c *Client) {
	reg.Register(&tools.Tool{
		Name:        "getTorrents",
		Description: "List torrents in qBittorrent, optionally filtered by state.",
		Parameters: tools.Object(map[string]any{
			"filter": tools.Enum("Filter torrents by state (default all)", Filters...),
		}),
		Status:  "is looking up torrents...",
		Handler: c.handleGetTorrents,
	})
	reg.Register(&tools.Tool{
		Name:        "deleteTorrents",
		Description: "Delete torrents from qBittorrent by hash, including their downloaded files.",
		Parameters: tools.Object(map[string]any{
			"hashes": tools.Array("Torrent hashes to delete", map[string]any{"type": "string"}, 1),
		}, "hashes"),
		Status:   "is removing torrents...",
		Progress: ":qbittorrent: _Removing torrents_",
		Handler:  c.handleDeleteTorrents,
	})
}

func (c *Client) handleGetTorrents(ctx context.Context, call *tools.Call) (any, error) {
	list, err := c.Torrents(ctx, call.Args.String("filter"))
	if err != nil {
		return nil, err
	}
	out := make([]PartialTorrent, 0, len(list))
	for _, t := range list {
		out = append(out, ToPartialTorrent(t))
	}
	return map[string]any{
		"count":    len(out),
		"torrents": out,
	}, nil
}

func (c *Client) handleDeleteTorrents(ctx context.Context, call *tools.Call) (any, error) {
	hashes := call.Args.Strings("hashes")
	if err := c.DeleteTorrents(ctx, hashes); err != nil {
		return nil, err
	}
	if call.Turn != nil {
		call.Turn.Enqueue(slack.ContextBlock(fmt.Sprintf("Deleted %d torrent(s)", len(hashes))))
	}
	return map[string]any{
		"success":      true,
		"deletedCount": len(hashes),
		"message":      fmt.Sprintf("Deleted %d torrent(s) and their files. The user has been shown a confirmation.", len(hashes)),
	}, nil
}
