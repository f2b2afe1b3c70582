package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/kyle/internal/tools"
)

func newTestRegistry(t *testing.T, handler http.HandlerFunc) *tools.Registry {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status_message":"Invalid API key"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	reg := tools.NewRegistry(nil)
	Register(reg, NewClient(srv.URL, "tok", srv.Client(), nil))
	return reg
}

func TestSearchMovies_PassesOptions(t *testing.T) {
	reg := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/movie", r.URL.Path)
		assert.Equal(t, "dune", r.URL.Query().Get("query"))
		assert.Equal(t, "2021", r.URL.Query().Get("year"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write([]byte(`{"page":2,"total_pages":3,"total_results":41,"results":[
			{"id":438631,"title":"Dune","overview":"Paul Atreides...","release_date":"2021-09-15","vote_average":7.8,"popularity":99.5,"poster_path":"/d5.jpg","adult":false}
		]}`))
	})

	res := reg.Execute(context.Background(), nil, "searchMoviesOnTMDB", map[string]any{
		"query": "dune", "year": float64(2021), "page": float64(2),
	})

	assert.JSONEq(t, `{"ok":{"page":2,"total_pages":3,"total_results":41,"results":[
		{"id":438631,"title":"Dune","overview":"Paul Atreides...","release_date":"2021-09-15","vote_average":7.8,"popularity":99.5}
	]}}`, res.String())
}

func TestSearchMovies_OmitsUnsetOptions(t *testing.T) {
	reg := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("year"))
		assert.False(t, r.URL.Query().Has("page"))
		w.Write([]byte(`{"page":1,"results":[]}`))
	})

	res := reg.Execute(context.Background(), nil, "searchMoviesOnTMDB", map[string]any{"query": "dune"})
	require.False(t, res.Failed(), res.Error)
}

func TestSearchMulti_ProjectsByMediaType(t *testing.T) {
	reg := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/multi", r.URL.Path)
		w.Write([]byte(`{"page":1,"total_pages":1,"total_results":3,"results":[
			{"id":1,"media_type":"movie","title":"Alien","name":"","release_date":"1979-05-25","overview":"o","vote_average":8.1,"popularity":5},
			{"id":2,"media_type":"tv","name":"Alien: Earth","first_air_date":"2025-08-12","overview":"o2","vote_average":7,"popularity":4,"title":"ignored"},
			{"id":3,"media_type":"person","name":"Sigourney Weaver","known_for_department":"Acting","popularity":3,"overview":"ignored"}
		]}`))
	})

	res := reg.Execute(context.Background(), nil, "searchTMDB", map[string]any{"query": "alien"})

	require.False(t, res.Failed(), res.Error)
	results := res.OK.(map[string]any)["results"].([]MultiResult)
	require.Len(t, results, 3)
	assert.Equal(t, MultiResult{ID: 1, MediaType: "movie", Popularity: 5, Title: "Alien", Overview: "o", ReleaseDate: "1979-05-25", VoteAverage: 8.1}, results[0])
	assert.Equal(t, MultiResult{ID: 2, MediaType: "tv", Popularity: 4, Name: "Alien: Earth", Overview: "o2", FirstAirDate: "2025-08-12", VoteAverage: 7}, results[1])
	assert.Equal(t, MultiResult{ID: 3, MediaType: "person", Popularity: 3, Name: "Sigourney Weaver", KnownForDepartment: "Acting"}, results[2])
}

func TestMovieDetails(t *testing.T) {
	reg := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/27205", r.URL.Path)
		w.Write([]byte(`{"id":27205,"title":"Inception","runtime":148,"budget":160000000,"status":"Released",
			"imdb_id":"tt1375666","genres":[{"id":28,"name":"Action"},{"id":878,"name":"Science Fiction"}],
			"production_companies":[{"id":923,"name":"Legendary Pictures"}]}`))
	})

	res := reg.Execute(context.Background(), nil, "getMovieDetailsFromTMDB", map[string]any{"tmdbMovieId": float64(27205)})

	require.False(t, res.Failed(), res.Error)
	d := res.OK.(PartialMovieDetails)
	assert.Equal(t, "Inception", d.Title)
	assert.Equal(t, 148, d.Runtime)
	assert.Equal(t, []string{"Action", "Science Fiction"}, d.Genres)
	assert.Equal(t, []string{"Legendary Pictures"}, d.ProductionCompanies)
	assert.Equal(t, "tt1375666", d.IMDBID)
}

func TestShowDetails(t *testing.T) {
	reg := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/95396", r.URL.Path)
		w.Write([]byte(`{"id":95396,"name":"Severance","number_of_seasons":2,"number_of_episodes":19,"in_production":true,
			"networks":[{"id":2552,"name":"Apple TV+"}],"created_by":[{"id":1,"name":"Dan Erickson"}],"genres":[],
			"seasons":[{"season_number":1,"episode_count":9,"name":"Season 1","air_date":"2022-02-17"}]}`))
	})

	res := reg.Execute(context.Background(), nil, "getSeriesDetailsFromTMDB", map[string]any{"tmdbTVId": float64(95396)})

	require.False(t, res.Failed(), res.Error)
	d := res.OK.(PartialShowDetails)
	assert.Equal(t, "Severance", d.Name)
	assert.Equal(t, []string{"Apple TV+"}, d.Networks)
	assert.Equal(t, []string{"Dan Erickson"}, d.CreatedBy)
	assert.Equal(t, []Season{{SeasonNumber: 1, EpisodeCount: 9, Name: "Season 1", AirDate: "2022-02-17"}}, d.Seasons)
	assert.True(t, d.InProduction)
}

func TestBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status_message":"Invalid API key"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "wrong", srv.Client(), nil)

	err := c.Ping(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Contains(t, err.Error(), "Invalid API key")
}
