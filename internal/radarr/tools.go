package radarr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/tools"
)

// defaultHistoryPageSize is used when the model does not ask for one.
const defaultHistoryPageSize = 20

// posterLookups bounds concurrent lookups in presentListOfMovies.
const posterLookups = 4

// Register adds the Radarr tools to reg.
func Register(reg *tools.Registry, c *Client) {
	reg.Register(&tools.Tool{
		Name:        "getMovie",
		Description: "Get information about a specific movie in Radarr by its Radarr ID.",
		Parameters:  tools.Object(map[string]any{"movieId": tools.Integer("The Radarr ID of the movie")}, "movieId"),
		Status:      "is checking movie details in Radarr...",
		Handler:     c.handleGetMovie,
	})
	reg.Register(&tools.Tool{
		Name:        "getMovies",
		Description: "Get all movies in the Radarr library.",
		Parameters:  tools.Object(map[string]any{}),
		Status:      "is fetching movies from Radarr...",
		Handler:     c.handleGetMovies,
	})
	reg.Register(&tools.Tool{
		Name:        "searchMovies",
		Description: "Search for movies to add to Radarr by title. Results with id 0 are not in the library yet.",
		Parameters:  tools.Object(map[string]any{"title": tools.String("The title of the movie to search for")}, "title"),
		Status:      "is searching for movies...",
		Handler:     c.handleSearchMovies,
	})
	reg.Register(&tools.Tool{
		Name: "addMovie",
		Description: "Add a movie to Radarr for monitoring and downloading, identified by its TMDB ID. " +
			"The canonical title and year are looked up automatically.",
		Parameters: tools.Object(map[string]any{
			"tmdbId": tools.Integer("The TMDB ID of the movie to add"),
			"title":  tools.String("The title of the movie, for your own reference"),
			"year":   tools.Integer("The release year, for your own reference"),
		}, "tmdbId"),
		Status:   "is adding a movie to Radarr...",
		Progress: ":radarr: _Adding movie_",
		Handler:  c.handleAddMovie,
	})
	reg.Register(&tools.Tool{
		Name:        "removeMovie",
		Description: "Remove a movie from Radarr and delete its files from disk.",
		Parameters:  tools.Object(map[string]any{"movieId": tools.Integer("The Radarr ID of the movie to remove")}, "movieId"),
		Status:      "is removing a movie from Radarr...",
		Progress:    ":radarr: _Removing movie_",
		Handler:     c.handleRemoveMovie,
	})
	reg.Register(&tools.Tool{
		Name:        "getMovieQueue",
		Description: "Get movies currently downloading or waiting in the Radarr queue.",
		Parameters:  tools.Object(map[string]any{}),
		Status:      "is checking the Radarr queue...",
		Handler:     c.handleGetQueue,
	})
	reg.Register(&tools.Tool{
		Name: "getMovieHistory",
		Description: "Get recent Radarr history. Each item has an eventType (grabbed, downloadFolderImported, " +
			"movieFileDeleted, ...). Grabbed means the download started. History is noisy, so ask for more items than you think.",
		Parameters: tools.Object(map[string]any{"pageSize": tools.Integer("How many records to return (default 20)")}),
		Status:     "is taking a look at the history in Radarr...",
		Handler:    c.handleGetHistory,
	})
	reg.Register(&tools.Tool{
		Name: "presentListOfMovies",
		Description: "Present a list of movies to the user as cards with title, year, overview and poster. " +
			"Use it whenever you show the user more than one movie.",
		Parameters: tools.Object(map[string]any{
			"movies": tools.Array("The movies to show", tools.Object(map[string]any{
				"tmdbId": tools.Integer("The TMDB ID of the movie"),
				"title":  tools.String("The movie title"),
				"year":   tools.Integer("The release year"),
			}, "tmdbId", "title"), 1),
		}, "movies"),
		Status:  "is putting together some posters...",
		Handler: c.handlePresentList,
	})
}

func (c *Client) handleGetMovie(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("movieId")
	if err != nil {
		return nil, err
	}
	m, err := c.Movie(ctx, id)
	if err != nil {
		return nil, err
	}
	call.Reference(history.MediaRef{
		Kind:   history.MediaMovie,
		Action: history.ActionQuery,
		IDs:    map[string]int{"radarrId": m.ID, "tmdbId": m.TMDBID},
		Title:  m.Title,
	})
	return ToPartialMovie(m), nil
}

func (c *Client) handleGetMovies(ctx context.Context, _ *tools.Call) (any, error) {
	movies, err := c.Movies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartialMovie, 0, len(movies))
	for i := range movies {
		out = append(out, ToPartialMovie(&movies[i]))
	}
	return out, nil
}

func (c *Client) handleSearchMovies(ctx context.Context, call *tools.Call) (any, error) {
	movies, err := c.Lookup(ctx, call.Args.String("title"))
	if err != nil {
		return nil, err
	}
	out := make([]PartialMovie, 0, len(movies))
	for i := range movies {
		out = append(out, ToPartialMovie(&movies[i]))
	}
	return out, nil
}

func (c *Client) handleAddMovie(ctx context.Context, call *tools.Call) (any, error) {
	tmdbID, err := call.Args.RequireInt("tmdbId")
	if err != nil {
		return nil, err
	}
	m, err := c.AddMovie(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

	call.Reference(history.MediaRef{
		Kind:   history.MediaMovie,
		Action: history.ActionAdd,
		IDs:    map[string]int{"tmdbId": tmdbID, "radarrId": m.ID},
		Title:  m.Title,
	})
	if call.Turn != nil {
		call.Turn.Enqueue(slack.MediaBlock(
			fmt.Sprintf("*%s* (%d) (just added)", m.Title, m.Year), m.Overview, m.Poster()))
	}

	return map[string]any{
		"id":      m.ID,
		"title":   m.Title,
		"year":    m.Year,
		"message": fmt.Sprintf("Added %q (%d) to Radarr for monitoring and downloading", m.Title, m.Year),
	}, nil
}

func (c *Client) handleRemoveMovie(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("movieId")
	if err != nil {
		return nil, err
	}
	m, err := c.Movie(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.DeleteMovie(ctx, id, true); err != nil {
		return nil, err
	}
	call.Reference(history.MediaRef{
		Kind:   history.MediaMovie,
		Action: history.ActionRemove,
		IDs:    map[string]int{"radarrId": m.ID, "tmdbId": m.TMDBID},
		Title:  m.Title,
	})
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Removed %q (%d) and deleted its files from disk", m.Title, m.Year),
	}, nil
}

func (c *Client) handleGetQueue(ctx context.Context, _ *tools.Call) (any, error) {
	page, err := c.Queue(ctx)
	if err != nil {
		return nil, err
	}
	downloads := make([]PartialQueueItem, 0, len(page.Records))
	for i := range page.Records {
		downloads = append(downloads, ToPartialQueueItem(&page.Records[i]))
	}
	return map[string]any{
		"totalRecords": page.TotalRecords,
		"downloads":    downloads,
	}, nil
}

func (c *Client) handleGetHistory(ctx context.Context, call *tools.Call) (any, error) {
	size, ok := call.Args.Int("pageSize")
	if !ok || size <= 0 {
		size = defaultHistoryPageSize
	}
	page, err := c.History(ctx, size)
	if err != nil {
		return nil, err
	}
	out := make([]PartialHistoryRecord, 0, len(page.Records))
	for i := range page.Records {
		out = append(out, ToPartialHistoryRecord(&page.Records[i]))
	}
	return out, nil
}

type listedMovie struct {
	TMDBID int    `json:"tmdbId"`
	Title  string `json:"title"`
	Year   int    `json:"year"`
}

// handlePresentList looks up every movie concurrently and queues one
// card per movie in the order given. A failed lookup still gets a card
// from the model's own title and year.
func (c *Client) handlePresentList(ctx context.Context, call *tools.Call) (any, error) {
	var movies []listedMovie
	if err := call.Args.Decode("movies", &movies); err != nil {
		return nil, err
	}

	blocks := make([]slack.Block, len(movies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(posterLookups)
	for i, lm := range movies {
		g.Go(func() error {
			title := fmt.Sprintf("*%s*", lm.Title)
			if lm.Year > 0 {
				title = fmt.Sprintf("*%s* (%d)", lm.Title, lm.Year)
			}
			m, err := c.LookupTMDB(gctx, lm.TMDBID)
			if err != nil {
				c.logger.Debug("poster lookup failed", "tmdb_id", lm.TMDBID, "error", err)
				blocks[i] = slack.MediaBlock(title, "", "")
				return nil
			}
			blocks[i] = slack.MediaBlock(fmt.Sprintf("*%s* (%d)", m.Title, m.Year), m.Overview, m.Poster())
			return nil
		})
	}
	_ = g.Wait()

	if call.Turn != nil {
		call.Turn.Enqueue(blocks...)
	}
	return map[string]any{
		"presented": len(blocks),
		"message":   "List of movies presented to the user.",
	}, nil
}
