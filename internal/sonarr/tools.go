package sonarr

import (
	"context"
	"fmt"

	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/tools"
)

const defaultHistoryPageSize = 20

// Register adds the Sonarr tools to reg.
func Register(reg *tools.Registry, c *Client) {
	seriesID := tools.Object(map[string]any{"seriesId": tools.Integer("The Sonarr ID of the series")}, "seriesId")

	reg.Register(&tools.Tool{
		Name:        "getSeries",
		Description: "Get information about a specific TV series in Sonarr by its Sonarr ID.",
		Parameters:  seriesID,
		Status:      "is checking series details in Sonarr...",
		Handler:     c.handleGetSeries,
	})
	reg.Register(&tools.Tool{
		Name:        "getAllSeries",
		Description: "Get all TV series in the Sonarr library.",
		Parameters:  tools.Object(map[string]any{}),
		Status:      "is fetching all series in Sonarr...",
		Handler:     c.handleGetAllSeries,
	})
	reg.Register(&tools.Tool{
		Name:        "searchSeries",
		Description: "Search for TV series to add to Sonarr by title. Results with id 0 are not in the library yet.",
		Parameters:  tools.Object(map[string]any{"title": tools.String("The title of the series to search for")}, "title"),
		Status:      "is searching for series in Sonarr...",
		Handler:     c.handleSearchSeries,
	})
	reg.Register(&tools.Tool{
		Name:        "addSeries",
		Description: "Add a TV series to Sonarr for monitoring and downloading. Requires title, year and TVDB ID.",
		Parameters: tools.Object(map[string]any{
			"title":   tools.String("The title of the series to add"),
			"year":    tools.Integer("The year the series started"),
			"tvdbId":  tools.Integer("The TVDB ID of the series to add"),
			"monitor": tools.Enum("Which episodes to monitor (default all)", MonitorOptions...),
		}, "title", "year", "tvdbId"),
		Status:   "is adding a series to Sonarr...",
		Progress: ":sonarr: _Adding series_",
		Handler:  c.handleAddSeries,
	})
	reg.Register(&tools.Tool{
		Name:        "removeSeries",
		Description: "Remove a TV series from Sonarr and delete its files from disk.",
		Parameters:  seriesID,
		Status:      "is removing a series from Sonarr...",
		Progress:    ":sonarr: _Removing series_",
		Handler:     c.handleRemoveSeries,
	})
	reg.Register(&tools.Tool{
		Name:        "removeSeason",
		Description: "Remove one season of a TV series: delete its episode files from disk and stop monitoring it.",
		Parameters: tools.Object(map[string]any{
			"seriesId":     tools.Integer("The Sonarr ID of the series"),
			"seasonNumber": tools.Integer("The season number (1 for Season 1, 0 for Specials)"),
		}, "seriesId", "seasonNumber"),
		Status:   "is removing a season from Sonarr...",
		Progress: ":sonarr: _Removing season_",
		Handler:  c.handleRemoveSeason,
	})
	reg.Register(&tools.Tool{
		Name:        "getEpisodes",
		Description: "Get the episodes of a TV series, filtered by whether they have been downloaded.",
		Parameters: tools.Object(map[string]any{
			"seriesId": tools.Integer("The Sonarr ID of the series"),
			"hasFile":  tools.Boolean("Only episodes with (true) or without (false) a downloaded file. Default false."),
		}, "seriesId"),
		Status:  "is checking episodes in Sonarr...",
		Handler: c.handleGetEpisodes,
	})
	reg.Register(&tools.Tool{
		Name:        "getSeriesQueue",
		Description: "Get TV episodes currently downloading or waiting in the Sonarr queue.",
		Parameters:  tools.Object(map[string]any{}),
		Status:      "is checking the Sonarr queue...",
		Handler:     c.handleGetQueue,
	})
	reg.Register(&tools.Tool{
		Name:        "getCalendar",
		Description: "Get upcoming episodes from the Sonarr calendar for a date range.",
		Parameters: tools.Object(map[string]any{
			"start": tools.String("Start date in ISO format (default today)"),
			"end":   tools.String("End date in ISO format"),
		}),
		Status:  "is checking the Sonarr calendar...",
		Handler: c.handleGetCalendar,
	})
	reg.Register(&tools.Tool{
		Name:        "searchEpisodes",
		Description: "Search for all missing episodes of a series, or for specific episodes by ID.",
		Parameters: tools.Object(map[string]any{
			"seriesId":   tools.Integer("The Sonarr ID of the series to search missing episodes for"),
			"episodeIds": tools.Array("Specific episode IDs to search for", map[string]any{"type": "integer"}, 0),
		}),
		Status:   "is searching for episodes in Sonarr...",
		Progress: ":sonarr: _Searching for episodes_",
		Handler:  c.handleSearchEpisodes,
	})
	reg.Register(&tools.Tool{
		Name:        "getSeriesHistory",
		Description: "Get Sonarr download and import history. eventType grabbed means the download started.",
		Parameters: tools.Object(map[string]any{
			"page":     tools.Integer("Page number (default 1)"),
			"pageSize": tools.Integer("Items per page (default 20)"),
		}),
		Status:  "is checking Sonarr history...",
		Handler: c.handleGetHistory,
	})
}

func seriesRef(s *Series, action history.Action) history.MediaRef {
	return history.MediaRef{
		Kind:   history.MediaSeries,
		Action: action,
		IDs:    map[string]int{"sonarrId": s.ID, "tvdbId": s.TVDBID},
		Title:  s.Title,
	}
}

func (c *Client) handleGetSeries(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("seriesId")
	if err != nil {
		return nil, err
	}
	s, err := c.Series(ctx, id)
	if err != nil {
		return nil, err
	}
	call.Reference(seriesRef(s, history.ActionQuery))
	return ToPartialSeries(s), nil
}

func (c *Client) handleGetAllSeries(ctx context.Context, _ *tools.Call) (any, error) {
	all, err := c.AllSeries(ctx)
	if err != nil {
		return nil, err
	}
	return partials(all), nil
}

func (c *Client) handleSearchSeries(ctx context.Context, call *tools.Call) (any, error) {
	found, err := c.Lookup(ctx, call.Args.String("title"))
	if err != nil {
		return nil, err
	}
	return partials(found), nil
}

func partials(list []Series) []*PartialSeries {
	out := make([]*PartialSeries, 0, len(list))
	for i := range list {
		out = append(out, ToPartialSeries(&list[i]))
	}
	return out
}

func (c *Client) handleAddSeries(ctx context.Context, call *tools.Call) (any, error) {
	tvdbID, err := call.Args.RequireInt("tvdbId")
	if err != nil {
		return nil, err
	}
	s, err := c.AddSeries(ctx, tvdbID, call.Args.String("monitor"))
	if err != nil {
		return nil, err
	}

	call.Reference(history.MediaRef{
		Kind:   history.MediaSeries,
		Action: history.ActionAdd,
		IDs:    map[string]int{"tvdbId": tvdbID, "sonarrId": s.ID},
		Title:  s.Title,
	})
	if call.Turn != nil {
		call.Turn.Enqueue(slack.MediaBlock(
			fmt.Sprintf("*%s* (%d) (just added)", s.Title, s.Year), s.Overview, s.Poster()))
	}

	return map[string]any{
		"series":  ToPartialSeries(s),
		"message": fmt.Sprintf("Added %q (%d) to Sonarr for monitoring and downloading. The user has been shown the series.", s.Title, s.Year),
	}, nil
}

func (c *Client) handleRemoveSeries(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("seriesId")
	if err != nil {
		return nil, err
	}
	s, err := c.Series(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.DeleteSeries(ctx, id, true); err != nil {
		return nil, err
	}
	call.Reference(seriesRef(s, history.ActionRemove))
	if call.Turn != nil {
		call.Turn.Enqueue(slack.MediaBlock(
			fmt.Sprintf("*%s* (%d) (now removed)", s.Title, s.Year), s.Overview, s.Poster()))
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Removed %q (%d) from Sonarr and deleted its files from disk", s.Title, s.Year),
	}, nil
}

func (c *Client) handleRemoveSeason(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("seriesId")
	if err != nil {
		return nil, err
	}
	season, err := call.Args.RequireInt("seasonNumber")
	if err != nil {
		return nil, err
	}
	s, err := c.Series(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Season(season) == nil {
		return nil, fmt.Errorf("season %d not found in %q", season, s.Title)
	}

	deleted, err := c.RemoveSeason(ctx, id, season)
	if err != nil {
		return nil, err
	}

	call.Reference(seriesRef(s, history.ActionRemove))
	if call.Turn != nil {
		img := poster(s.Season(season).Images)
		if img == "" {
			img = s.Poster()
		}
		call.Turn.Enqueue(slack.MediaBlock(
			fmt.Sprintf("*%s* (%d) (season %d now removed)", s.Title, s.Year, season), s.Overview, img))
	}

	msg := fmt.Sprintf("Unmonitored season %d of %q (no files to delete)", season, s.Title)
	if deleted > 0 {
		plural := "s"
		if deleted == 1 {
			plural = ""
		}
		msg = fmt.Sprintf("Removed season %d of %q, deleted %d episode file%s and unmonitored the season", season, s.Title, deleted, plural)
	}
	return map[string]any{
		"success":      true,
		"message":      msg,
		"filesDeleted": deleted,
	}, nil
}

func (c *Client) handleGetEpisodes(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("seriesId")
	if err != nil {
		return nil, err
	}
	hasFile := call.Args.Bool("hasFile", false)
	eps, err := c.Episodes(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*PartialEpisode, 0, len(eps))
	for i := range eps {
		if eps[i].HasFile == hasFile {
			out = append(out, ToPartialEpisode(&eps[i]))
		}
	}
	return out, nil
}

func (c *Client) handleGetQueue(ctx context.Context, _ *tools.Call) (any, error) {
	page, err := c.Queue(ctx)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return map[string]any{"message": "No downloads in progress"}, nil
	}
	items := make([]PartialQueueItem, 0, len(page.Records))
	for i := range page.Records {
		items = append(items, ToPartialQueueItem(&page.Records[i]))
	}
	return map[string]any{
		"totalRecords": page.TotalRecords,
		"items":        items,
	}, nil
}

func (c *Client) handleGetCalendar(ctx context.Context, call *tools.Call) (any, error) {
	eps, err := c.Calendar(ctx, call.Args.String("start"), call.Args.String("end"))
	if err != nil {
		return nil, err
	}
	out := make([]*PartialEpisode, 0, len(eps))
	for i := range eps {
		out = append(out, ToPartialEpisode(&eps[i]))
	}
	return out, nil
}

func (c *Client) handleSearchEpisodes(ctx context.Context, call *tools.Call) (any, error) {
	seriesID, _ := call.Args.Int("seriesId")
	episodeIDs := call.Args.Ints("episodeIds")
	cmd, err := c.SearchEpisodes(ctx, seriesID, episodeIDs)
	if err != nil {
		return nil, err
	}
	target := fmt.Sprintf("series %d", seriesID)
	if len(episodeIDs) > 0 {
		target = fmt.Sprintf("%d episodes", len(episodeIDs))
	}
	return map[string]any{
		"commandId": cmd.ID,
		"status":    cmd.Status,
		"message":   "Search command queued for " + target,
	}, nil
}

func (c *Client) handleGetHistory(ctx context.Context, call *tools.Call) (any, error) {
	page, ok := call.Args.Int("page")
	if !ok || page <= 0 {
		page = 1
	}
	size, ok := call.Args.Int("pageSize")
	if !ok || size <= 0 {
		size = defaultHistoryPageSize
	}
	hp, err := c.History(ctx, page, size)
	if err != nil {
		return nil, err
	}
	items := make([]PartialHistoryRecord, 0, len(hp.Records))
	for i := range hp.Records {
		items = append(items, ToPartialHistoryRecord(&hp.Records[i]))
	}
	return map[string]any{
		"totalRecords": hp.TotalRecords,
		"page":         hp.Page,
		"pageSize":     hp.PageSize,
		"items":        items,
	}, nil
}
