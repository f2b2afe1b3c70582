package tmdb

import (
	"context"

	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/tools"
)

var pageParam = tools.Integer("Page number for pagination (default 1)")

// Register adds the TMDB tools to reg.
func Register(reg *tools.Registry, c *Client) {
	reg.Register(&tools.Tool{
		Name: "searchMoviesOnTMDB",
		Description: "Search for movies on The Movie Database (TMDB) to find TMDB IDs, release dates, ratings and overviews. " +
			"Useful before adding a movie to Radarr.",
		Parameters: tools.Object(map[string]any{
			"query": tools.String("The movie title or search query"),
			"year":  tools.Integer("Only return movies released in this year"),
			"page":  pageParam,
		}, "query"),
		Status:  "is searching for movies on TMDB...",
		Handler: c.handleSearchMovies,
	})
	reg.Register(&tools.Tool{
		Name: "searchSeriesOnTMDB",
		Description: "Search for TV shows on The Movie Database (TMDB) to find TMDB IDs, first air dates, ratings and overviews. " +
			"Useful before adding a series to Sonarr.",
		Parameters: tools.Object(map[string]any{
			"query": tools.String("The TV show name or search query"),
			"page":  pageParam,
		}, "query"),
		Status:  "is searching for TV shows on TMDB...",
		Handler: c.handleSearchShows,
	})
	reg.Register(&tools.Tool{
		Name: "searchTMDB",
		Description: "Search movies, TV shows and people on TMDB in one query. Use it when the user does not say which kind " +
			"they mean. Each result has media_type movie, tv or person.",
		Parameters: tools.Object(map[string]any{
			"query": tools.String("The search query"),
			"page":  pageParam,
		}, "query"),
		Status:  "is searching TMDB...",
		Handler: c.handleSearchMulti,
	})
	reg.Register(&tools.Tool{
		Name: "getMovieDetailsFromTMDB",
		Description: "Get details for a movie by TMDB ID: runtime, budget, revenue, genres, production companies, IMDB ID and more. " +
			"Use after a search has given you the ID.",
		Parameters: tools.Object(map[string]any{"tmdbMovieId": tools.Integer("The TMDB ID of the movie")}, "tmdbMovieId"),
		Status:     "is fetching movie details from TMDB...",
		Handler:    c.handleMovieDetails,
	})
	reg.Register(&tools.Tool{
		Name: "getSeriesDetailsFromTMDB",
		Description: "Get details for a TV show by TMDB ID: seasons, episode counts, networks, creators, runtime and genres. " +
			"Use after a search has given you the ID.",
		Parameters: tools.Object(map[string]any{"tmdbTVId": tools.Integer("The TMDB ID of the TV show")}, "tmdbTVId"),
		Status:     "is fetching TV show details from TMDB...",
		Handler:    c.handleShowDetails,
	})
}

func searchOptions(args tools.Args) SearchOptions {
	var o SearchOptions
	o.Page, _ = args.Int("page")
	o.Year, _ = args.Int("year")
	return o
}

func (c *Client) handleSearchMovies(ctx context.Context, call *tools.Call) (any, error) {
	p, err := c.SearchMovies(ctx, call.Args.String("query"), searchOptions(call.Args))
	if err != nil {
		return nil, err
	}
	results := make([]PartialMovie, 0, len(p.Results))
	for _, m := range p.Results {
		results = append(results, ToPartialMovie(m))
	}
	return searchResponse(p.Page, p.TotalPages, p.TotalResults, results), nil
}

func (c *Client) handleSearchShows(ctx context.Context, call *tools.Call) (any, error) {
	p, err := c.SearchShows(ctx, call.Args.String("query"), searchOptions(call.Args))
	if err != nil {
		return nil, err
	}
	results := make([]PartialShow, 0, len(p.Results))
	for _, s := range p.Results {
		results = append(results, ToPartialShow(s))
	}
	return searchResponse(p.Page, p.TotalPages, p.TotalResults, results), nil
}

func (c *Client) handleSearchMulti(ctx context.Context, call *tools.Call) (any, error) {
	p, err := c.SearchMulti(ctx, call.Args.String("query"), searchOptions(call.Args))
	if err != nil {
		return nil, err
	}
	results := make([]MultiResult, 0, len(p.Results))
	for _, r := range p.Results {
		results = append(results, PartialMulti(r))
	}
	return searchResponse(p.Page, p.TotalPages, p.TotalResults, results), nil
}

func searchResponse(page, totalPages, totalResults int, results any) map[string]any {
	return map[string]any{
		"page":          page,
		"total_pages":   totalPages,
		"total_results": totalResults,
		"results":       results,
	}
}

func (c *Client) handleMovieDetails(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("tmdbMovieId")
	if err != nil {
		return nil, err
	}
	d, err := c.Movie(ctx, id)
	if err != nil {
		return nil, err
	}
	call.Reference(history.MediaRef{
		Kind:   history.MediaMovie,
		Action: history.ActionQuery,
		IDs:    map[string]int{"tmdbId": d.ID},
		Title:  d.Title,
	})
	return ToPartialMovieDetails(d), nil
}

func (c *Client) handleShowDetails(ctx context.Context, call *tools.Call) (any, error) {
	id, err := call.Args.RequireInt("tmdbTVId")
	if err != nil {
		return nil, err
	}
	d, err := c.Show(ctx, id)
	if err != nil {
		return nil, err
	}
	call.Reference(history.MediaRef{
		Kind:   history.MediaSeries,
		Action: history.ActionQuery,
		IDs:    map[string]int{"tmdbId": d.ID},
		Title:  d.Name,
	})
	return ToPartialShowDetails(d), nil
}
