package tmdb

// Page is one page of search results.
type Page[T any] struct {
	Page         int `json:"page"`
	Results      []T `json:"results"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
}

// Movie is a movie search hit.
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	ReleaseDate string  `json:"release_date"`
	PosterPath  string  `json:"poster_path,omitempty"`
	VoteAverage float64 `json:"vote_average"`
	Popularity  float64 `json:"popularity"`
}

// Show is a TV search hit.
type Show struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
	Popularity   float64 `json:"popularity"`
}

// MultiResult is a multi-search hit. MediaType is "movie", "tv" or
// "person" and decides which fields are set.
type MultiResult struct {
	ID                 int     `json:"id"`
	MediaType          string  `json:"media_type"`
	Popularity         float64 `json:"popularity"`
	Title              string  `json:"title,omitempty"`
	Name               string  `json:"name,omitempty"`
	Overview           string  `json:"overview,omitempty"`
	ReleaseDate        string  `json:"release_date,omitempty"`
	FirstAirDate       string  `json:"first_air_date,omitempty"`
	VoteAverage        float64 `json:"vote_average,omitempty"`
	KnownForDepartment string  `json:"known_for_department,omitempty"`
}

// Named is any {id, name} reference: genres, companies, networks.
type Named struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// MovieDetails is the full movie record.
type MovieDetails struct {
	Movie
	Runtime             int     `json:"runtime"`
	Budget              int64   `json:"budget"`
	Revenue             int64   `json:"revenue"`
	Status              string  `json:"status"`
	Tagline             string  `json:"tagline"`
	IMDBID              string  `json:"imdb_id"`
	Genres              []Named `json:"genres"`
	ProductionCompanies []Named `json:"production_companies"`
}

// Season is a season summary inside ShowDetails.
type Season struct {
	SeasonNumber int    `json:"season_number"`
	EpisodeCount int    `json:"episode_count"`
	Name         string `json:"name"`
	AirDate      string `json:"air_date"`
}

// ShowDetails is the full TV record.
type ShowDetails struct {
	Show
	LastAirDate      string   `json:"last_air_date"`
	Status           string   `json:"status"`
	Tagline          string   `json:"tagline"`
	NumberOfSeasons  int      `json:"number_of_seasons"`
	NumberOfEpisodes int      `json:"number_of_episodes"`
	EpisodeRunTime   []int    `json:"episode_run_time"`
	InProduction     bool     `json:"in_production"`
	Genres           []Named  `json:"genres"`
	Networks         []Named  `json:"networks"`
	CreatedBy        []Named  `json:"created_by"`
	Seasons          []Season `json:"seasons"`
}

// PartialMovie is the compact projection handed to the model.
type PartialMovie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	Popularity  float64 `json:"popularity"`
}

// ToPartialMovie projects a movie hit.
func ToPartialMovie(m Movie) PartialMovie {
	return PartialMovie{
		ID:          m.ID,
		Title:       m.Title,
		Overview:    m.Overview,
		ReleaseDate: m.ReleaseDate,
		VoteAverage: m.VoteAverage,
		Popularity:  m.Popularity,
	}
}

// PartialShow is the compact projection of a TV hit.
type PartialShow struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
	Popularity   float64 `json:"popularity"`
}

// ToPartialShow projects a TV hit.
func ToPartialShow(s Show) PartialShow {
	return PartialShow{
		ID:           s.ID,
		Name:         s.Name,
		Overview:     s.Overview,
		FirstAirDate: s.FirstAirDate,
		VoteAverage:  s.VoteAverage,
		Popularity:   s.Popularity,
	}
}

// PartialMulti drops the fields that do not apply to the hit's media
// type.
func PartialMulti(r MultiResult) MultiResult {
	out := MultiResult{ID: r.ID, MediaType: r.MediaType, Popularity: r.Popularity}
	switch r.MediaType {
	case "movie":
		out.Title, out.Overview, out.ReleaseDate, out.VoteAverage = r.Title, r.Overview, r.ReleaseDate, r.VoteAverage
	case "tv":
		out.Name, out.Overview, out.FirstAirDate, out.VoteAverage = r.Name, r.Overview, r.FirstAirDate, r.VoteAverage
	default:
		out.Name, out.KnownForDepartment = r.Name, r.KnownForDepartment
	}
	return out
}

func names(list []Named) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Name)
	}
	return out
}

// PartialMovieDetails is the projection of MovieDetails.
type PartialMovieDetails struct {
	PartialMovie
	Runtime             int      `json:"runtime"`
	Budget              int64    `json:"budget"`
	Revenue             int64    `json:"revenue"`
	Status              string   `json:"status"`
	Tagline             string   `json:"tagline,omitempty"`
	Genres              []string `json:"genres"`
	ProductionCompanies []string `json:"production_companies"`
	IMDBID              string   `json:"imdb_id,omitempty"`
}

// ToPartialMovieDetails projects movie details.
func ToPartialMovieDetails(d *MovieDetails) PartialMovieDetails {
	return PartialMovieDetails{
		PartialMovie:        ToPartialMovie(d.Movie),
		Runtime:             d.Runtime,
		Budget:              d.Budget,
		Revenue:             d.Revenue,
		Status:              d.Status,
		Tagline:             d.Tagline,
		Genres:              names(d.Genres),
		ProductionCompanies: names(d.ProductionCompanies),
		IMDBID:              d.IMDBID,
	}
}

// PartialShowDetails is the projection of ShowDetails.
type PartialShowDetails struct {
	PartialShow
	LastAirDate      string   `json:"last_air_date"`
	Status           string   `json:"status"`
	Tagline          string   `json:"tagline,omitempty"`
	NumberOfSeasons  int      `json:"number_of_seasons"`
	NumberOfEpisodes int      `json:"number_of_episodes"`
	EpisodeRunTime   []int    `json:"episode_run_time"`
	Genres           []string `json:"genres"`
	Networks         []string `json:"networks"`
	CreatedBy        []string `json:"created_by"`
	InProduction     bool     `json:"in_production"`
	Seasons          []Season `json:"seasons"`
}

// ToPartialShowDetails projects TV details.
func ToPartialShowDetails(d *ShowDetails) PartialShowDetails {
	return PartialShowDetails{
		PartialShow:      ToPartialShow(d.Show),
		LastAirDate:      d.LastAirDate,
		Status:           d.Status,
		Tagline:          d.Tagline,
		NumberOfSeasons:  d.NumberOfSeasons,
		NumberOfEpisodes: d.NumberOfEpisodes,
		EpisodeRunTime:   d.EpisodeRunTime,
		Genres:           names(d.Genres),
		Networks:         names(d.Networks),
		CreatedBy:        names(d.CreatedBy),
		InProduction:     d.InProduction,
		Seasons:          d.Seasons,
	}
}
