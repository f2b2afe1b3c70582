package webhooks

// Event types sent by Radarr and Sonarr "Connect" webhooks.
const (
	EventTest     = "Test"
	EventDownload = "Download"
	EventUpgrade  = "Upgrade"
)

// Release describes the downloaded release.
type Release struct {
	Quality      string `json:"quality"`
	ReleaseGroup string `json:"releaseGroup"`
}

// RadarrPayload is the part of a Radarr webhook body Kyle reads.
type RadarrPayload struct {
	EventType string `json:"eventType"`
	Movie     struct {
		ID     int    `json:"id"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
		TMDBID int    `json:"tmdbId"`
	} `json:"movie"`
	Release *Release `json:"release,omitempty"`
	// IsUpgrade is set on Download events that replace an existing file.
	IsUpgrade bool `json:"isUpgrade"`
}

// SonarrEpisode is an episode in a Sonarr webhook.
type SonarrEpisode struct {
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
}

// SonarrPayload is the part of a Sonarr webhook body Kyle reads.
type SonarrPayload struct {
	EventType string `json:"eventType"`
	Series    struct {
		ID     int    `json:"id"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
		TVDBID int    `json:"tvdbId"`
	} `json:"series"`
	Episodes  []SonarrEpisode `json:"episodes"`
	Release   *Release        `json:"release,omitempty"`
	IsUpgrade bool            `json:"isUpgrade"`
}
