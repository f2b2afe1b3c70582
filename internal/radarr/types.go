package radarr

// Image is a movie artwork entry.
type Image struct {
	CoverType string `json:"coverType"`
	URL       string `json:"url,omitempty"`
	RemoteURL string `json:"remoteUrl,omitempty"`
}

// Quality names a release quality, e.g. "Bluray-1080p".
type Quality struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// QualityInfo wraps a Quality as Radarr nests it.
type QualityInfo struct {
	Quality Quality `json:"quality"`
}

// MovieFile is the file backing a downloaded movie.
type MovieFile struct {
	ID           int         `json:"id"`
	RelativePath string      `json:"relativePath,omitempty"`
	Size         int64       `json:"size"`
	Quality      QualityInfo `json:"quality"`
}

// Movie is the subset of Radarr's movie resource Kyle reads.
type Movie struct {
	ID               int        `json:"id"`
	Title            string     `json:"title"`
	Year             int        `json:"year"`
	Status           string     `json:"status,omitempty"`
	Overview         string     `json:"overview,omitempty"`
	Images           []Image    `json:"images,omitempty"`
	HasFile          bool       `json:"hasFile"`
	Monitored        bool       `json:"monitored"`
	TMDBID           int        `json:"tmdbId"`
	IMDBID           string     `json:"imdbId,omitempty"`
	QualityProfileID int        `json:"qualityProfileId,omitempty"`
	RootFolderPath   string     `json:"rootFolderPath,omitempty"`
	Path             string     `json:"path,omitempty"`
	SizeOnDisk       int64      `json:"sizeOnDisk,omitempty"`
	MovieFile        *MovieFile `json:"movieFile,omitempty"`
}

// Poster returns the poster's remote URL, falling back to the first
// image, or "".
func (m *Movie) Poster() string {
	for _, img := range m.Images {
		if img.CoverType == "poster" && img.RemoteURL != "" {
			return img.RemoteURL
		}
	}
	if len(m.Images) > 0 {
		return m.Images[0].RemoteURL
	}
	return ""
}

// QueueItem is one entry in the download queue.
type QueueItem struct {
	ID       int         `json:"id"`
	MovieID  int         `json:"movieId"`
	Movie    *Movie      `json:"movie,omitempty"`
	Title    string      `json:"title"`
	Status   string      `json:"status"`
	TimeLeft string      `json:"timeLeft,omitempty"`
	Size     float64     `json:"size"`
	SizeLeft float64     `json:"sizeleft"`
	Quality  QualityInfo `json:"quality"`
}

// QueuePage is a page of the download queue.
type QueuePage struct {
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// HistoryRecord is one grab, import or deletion event.
type HistoryRecord struct {
	ID          int         `json:"id"`
	MovieID     int         `json:"movieId"`
	Movie       *Movie      `json:"movie,omitempty"`
	SourceTitle string      `json:"sourceTitle"`
	Date        string      `json:"date"`
	EventType   string      `json:"eventType"`
	Quality     QualityInfo `json:"quality"`
}

// HistoryPage is a page of history records.
type HistoryPage struct {
	TotalRecords int             `json:"totalRecords"`
	Records      []HistoryRecord `json:"records"`
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

// PartialMovie is the compact projection handed to the model.
type PartialMovie struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Status    string `json:"status,omitempty"`
	HasFile   bool   `json:"hasFile"`
	Monitored bool   `json:"monitored"`
	TMDBID    int    `json:"tmdbId"`
	Quality   string `json:"quality"`
}

// ToPartialMovie projects a movie for the model.
func ToPartialMovie(m *Movie) PartialMovie {
	quality := "no file"
	if m.MovieFile != nil && m.MovieFile.Quality.Quality.Name != "" {
		quality = m.MovieFile.Quality.Quality.Name
	}
	return PartialMovie{
		ID:        m.ID,
		Title:     m.Title,
		Year:      m.Year,
		Status:    m.Status,
		HasFile:   m.HasFile,
		Monitored: m.Monitored,
		TMDBID:    m.TMDBID,
		Quality:   quality,
	}
}

// PartialQueueItem is the compact projection of a queue entry.
type PartialQueueItem struct {
	ID       int           `json:"id"`
	Movie    *PartialMovie `json:"movie,omitempty"`
	Title    string        `json:"title"`
	Status   string        `json:"status"`
	TimeLeft string        `json:"timeLeft,omitempty"`
	Quality  string        `json:"quality"`
}

// ToPartialQueueItem projects a queue entry for the model.
func ToPartialQueueItem(q *QueueItem) PartialQueueItem {
	p := PartialQueueItem{
		ID:       q.ID,
		Title:    q.Title,
		Status:   q.Status,
		TimeLeft: q.TimeLeft,
		Quality:  q.Quality.Quality.Name,
	}
	if q.Movie != nil {
		pm := ToPartialMovie(q.Movie)
		p.Movie = &pm
	}
	return p
}

// PartialHistoryRecord is the compact projection of a history event.
type PartialHistoryRecord struct {
	ID        int           `json:"id"`
	Movie     *PartialMovie `json:"movie,omitempty"`
	Date      string        `json:"date"`
	EventType string        `json:"eventType"`
	Quality   string        `json:"quality"`
}

// ToPartialHistoryRecord projects a history event for the model.
func ToPartialHistoryRecord(r *HistoryRecord) PartialHistoryRecord {
	p := PartialHistoryRecord{
		ID:        r.ID,
		Date:      r.Date,
		EventType: r.EventType,
		Quality:   r.Quality.Quality.Name,
	}
	if r.Movie != nil {
		pm := ToPartialMovie(r.Movie)
		p.Movie = &pm
	}
	return p
}
