package sonarr

// Image is a series or season artwork entry.
type Image struct {
	CoverType string `json:"coverType"`
	URL       string `json:"url,omitempty"`
	RemoteURL string `json:"remoteUrl,omitempty"`
}

// poster picks the poster's remote URL from images, or "".
func poster(images []Image) string {
	for _, img := range images {
		if img.CoverType == "poster" && img.RemoteURL != "" {
			return img.RemoteURL
		}
	}
	return ""
}

// Season is one season of a series.
type Season struct {
	SeasonNumber int     `json:"seasonNumber"`
	Monitored    bool    `json:"monitored"`
	Images       []Image `json:"images,omitempty"`
}

// Series is the subset of Sonarr's series resource Kyle reads.
type Series struct {
	ID             int      `json:"id"`
	Title          string   `json:"title"`
	Year           int      `json:"year"`
	Status         string   `json:"status,omitempty"`
	Overview       string   `json:"overview,omitempty"`
	Network        string   `json:"network,omitempty"`
	Images         []Image  `json:"images,omitempty"`
	Seasons        []Season `json:"seasons,omitempty"`
	Monitored      bool     `json:"monitored"`
	TVDBID         int      `json:"tvdbId"`
	TMDBID         int      `json:"tmdbId,omitempty"`
	RootFolderPath string   `json:"rootFolderPath,omitempty"`
}

// Poster returns the series poster, falling back to the first image.
func (s *Series) Poster() string {
	if p := poster(s.Images); p != "" {
		return p
	}
	if len(s.Images) > 0 {
		return s.Images[0].RemoteURL
	}
	return ""
}

// Season returns the numbered season, or nil.
func (s *Series) Season(number int) *Season {
	for i := range s.Seasons {
		if s.Seasons[i].SeasonNumber == number {
			return &s.Seasons[i]
		}
	}
	return nil
}

// Quality names a release quality.
type Quality struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// QualityInfo wraps a Quality as Sonarr nests it.
type QualityInfo struct {
	Quality Quality `json:"quality"`
}

// Episode is one episode of a series.
type Episode struct {
	ID            int     `json:"id"`
	SeriesID      int     `json:"seriesId"`
	TVDBID        int     `json:"tvdbId,omitempty"`
	EpisodeFileID int     `json:"episodeFileId,omitempty"`
	SeasonNumber  int     `json:"seasonNumber"`
	EpisodeNumber int     `json:"episodeNumber"`
	Title         string  `json:"title"`
	AirDate       string  `json:"airDate,omitempty"`
	AirDateUTC    string  `json:"airDateUtc,omitempty"`
	Overview      string  `json:"overview,omitempty"`
	HasFile       bool    `json:"hasFile"`
	Monitored     bool    `json:"monitored"`
	Series        *Series `json:"series,omitempty"`
}

// QueueItem is one entry in the download queue.
type QueueItem struct {
	ID                      int         `json:"id"`
	SeriesID                int         `json:"seriesId,omitempty"`
	EpisodeID               int         `json:"episodeId,omitempty"`
	Series                  *Series     `json:"series,omitempty"`
	Episode                 *Episode    `json:"episode,omitempty"`
	Title                   string      `json:"title"`
	Status                  string      `json:"status"`
	EstimatedCompletionTime string      `json:"estimatedCompletionTime,omitempty"`
	Quality                 QualityInfo `json:"quality"`
}

// QueuePage is a page of the download queue.
type QueuePage struct {
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// HistoryRecord is one grab, import or deletion event.
type HistoryRecord struct {
	ID          int         `json:"id"`
	EpisodeID   int         `json:"episodeId"`
	SeriesID    int         `json:"seriesId"`
	SourceTitle string      `json:"sourceTitle"`
	Date        string      `json:"date"`
	EventType   string      `json:"eventType"`
	Quality     QualityInfo `json:"quality"`
	Series      *Series     `json:"series,omitempty"`
	Episode     *Episode    `json:"episode,omitempty"`
}

// HistoryPage is a page of history records.
type HistoryPage struct {
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalRecords int             `json:"totalRecords"`
	Records      []HistoryRecord `json:"records"`
}

// Command is a queued Sonarr command.
type Command struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// QualityProfile is a configured quality profile.
type QualityProfile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RootFolder is a configured library root.
type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// PartialSeries is the compact projection handed to the model.
type PartialSeries struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	Status      string `json:"status,omitempty"`
	Overview    string `json:"overview,omitempty"`
	Monitored   bool   `json:"monitored"`
	SeasonCount int    `json:"seasonCount"`
	TVDBID      int    `json:"tvdbId"`
}

// ToPartialSeries projects a series for the model. A nil series yields
// nil.
func ToPartialSeries(s *Series) *PartialSeries {
	if s == nil {
		return nil
	}
	return &PartialSeries{
		ID:          s.ID,
		Title:       s.Title,
		Year:        s.Year,
		Status:      s.Status,
		Overview:    s.Overview,
		Monitored:   s.Monitored,
		SeasonCount: len(s.Seasons),
		TVDBID:      s.TVDBID,
	}
}

// PartialEpisode is the compact projection of an episode.
type PartialEpisode struct {
	ID            int            `json:"id"`
	SeriesID      int            `json:"seriesId"`
	SeasonNumber  int            `json:"seasonNumber"`
	EpisodeNumber int            `json:"episodeNumber"`
	Title         string         `json:"title"`
	AirDate       string         `json:"airDate,omitempty"`
	AirDateUTC    string         `json:"airDateUtc,omitempty"`
	HasFile       bool           `json:"hasFile"`
	Monitored     bool           `json:"monitored"`
	TVDBID        int            `json:"tvdbId,omitempty"`
	Series        *PartialSeries `json:"series,omitempty"`
}

// ToPartialEpisode projects an episode. Calendar entries carry their
// series; other listings leave it nil.
func ToPartialEpisode(e *Episode) *PartialEpisode {
	if e == nil {
		return nil
	}
	return &PartialEpisode{
		ID:            e.ID,
		SeriesID:      e.SeriesID,
		SeasonNumber:  e.SeasonNumber,
		EpisodeNumber: e.EpisodeNumber,
		Title:         e.Title,
		AirDate:       e.AirDate,
		AirDateUTC:    e.AirDateUTC,
		HasFile:       e.HasFile,
		Monitored:     e.Monitored,
		TVDBID:        e.TVDBID,
		Series:        ToPartialSeries(e.Series),
	}
}

// PartialQueueItem is the compact projection of a queue entry.
type PartialQueueItem struct {
	ID                      int             `json:"id"`
	Series                  *PartialSeries  `json:"series,omitempty"`
	Episode                 *PartialEpisode `json:"episode,omitempty"`
	Status                  string          `json:"status"`
	EstimatedCompletionTime string          `json:"estimatedCompletionTime,omitempty"`
	Quality                 string          `json:"quality"`
}

// ToPartialQueueItem projects a queue entry.
func ToPartialQueueItem(q *QueueItem) PartialQueueItem {
	return PartialQueueItem{
		ID:                      q.ID,
		Series:                  ToPartialSeries(q.Series),
		Episode:                 ToPartialEpisode(q.Episode),
		Status:                  q.Status,
		EstimatedCompletionTime: q.EstimatedCompletionTime,
		Quality:                 q.Quality.Quality.Name,
	}
}

// PartialHistoryRecord is the compact projection of a history event.
type PartialHistoryRecord struct {
	ID          int             `json:"id"`
	EpisodeID   int             `json:"episodeId"`
	SeriesID    int             `json:"seriesId"`
	SourceTitle string          `json:"sourceTitle"`
	Quality     string          `json:"quality"`
	Date        string          `json:"date"`
	EventType   string          `json:"eventType"`
	Series      *PartialSeries  `json:"series,omitempty"`
	Episode     *PartialEpisode `json:"episode,omitempty"`
}

// ToPartialHistoryRecord projects a history event.
func ToPartialHistoryRecord(r *HistoryRecord) PartialHistoryRecord {
	return PartialHistoryRecord{
		ID:          r.ID,
		EpisodeID:   r.EpisodeID,
		SeriesID:    r.SeriesID,
		SourceTitle: r.SourceTitle,
		Quality:     r.Quality.Quality.Name,
		Date:        r.Date,
		EventType:   r.EventType,
		Series:      ToPartialSeries(r.Series),
		Episode:     ToPartialEpisode(r.Episode),
	}
}
