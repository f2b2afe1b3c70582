package qbittorrent

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Filters are the torrent list filters the Web API accepts.
var Filters = []string{
	"all", "downloading", "completed", "paused", "active", "inactive",
	"resumed", "stalled", "stalled_uploading", "stalled_downloading", "errored",
}

// etaInfinity is what qBittorrent reports when no ETA can be computed.
const etaInfinity = 8640000

// Torrent is the subset of /torrents/info Kyle reads.
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	DLSpeed  int64   `json:"dlspeed"`
	UPSpeed  int64   `json:"upspeed"`
	ETA      int64   `json:"eta"`
	State    string  `json:"state"`
	Category string  `json:"category"`
	AddedOn  int64   `json:"added_on"`
	Ratio    float64 `json:"ratio"`
}

// PartialTorrent is the human-readable projection handed to the model.
type PartialTorrent struct {
	Hash          string `json:"hash"`
	Name          string `json:"name"`
	Size          string `json:"size"`
	Progress      string `json:"progress"`
	DownloadSpeed string `json:"downloadSpeed"`
	UploadSpeed   string `json:"uploadSpeed"`
	State         string `json:"state"`
	ETA           string `json:"eta"`
	Category      string `json:"category,omitempty"`
	AddedOn       string `json:"addedOn"`
}

var stateNames = map[string]string{
	"downloading":        "Downloading",
	"uploading":          "Seeding",
	"pausedDL":           "Paused",
	"pausedUP":           "Paused",
	"stoppedDL":          "Paused",
	"stoppedUP":          "Paused",
	"queuedDL":           "Queued",
	"queuedUP":           "Queued",
	"stalledDL":          "Stalled",
	"stalledUP":          "Stalled",
	"checkingDL":         "Checking",
	"checkingUP":         "Checking",
	"checkingResumeData": "Checking",
	"error":              "Error",
	"missingFiles":       "Missing Files",
	"allocating":         "Allocating",
	"metaDL":             "Downloading Metadata",
	"forcedDL":           "Forced Download",
	"forcedUP":           "Forced Upload",
}

// ToPartialTorrent formats sizes, speeds, progress and ETA for reading.
func ToPartialTorrent(t Torrent) PartialTorrent {
	state, ok := stateNames[t.State]
	if !ok {
		state = t.State
	}
	added := "Unknown"
	if t.AddedOn > 0 {
		added = time.Unix(t.AddedOn, 0).UTC().Format(time.RFC3339)
	}
	return PartialTorrent{
		Hash:          t.Hash,
		Name:          t.Name,
		Size:          humanize.IBytes(uint64(max(t.Size, 0))),
		Progress:      fmt.Sprintf("%.1f%%", t.Progress*100),
		DownloadSpeed: humanize.IBytes(uint64(max(t.DLSpeed, 0))) + "/s",
		UploadSpeed:   humanize.IBytes(uint64(max(t.UPSpeed, 0))) + "/s",
		State:         state,
		ETA:           formatETA(t.ETA),
		Category:      t.Category,
		AddedOn:       added,
	}
}

func formatETA(secs int64) string {
	if secs <= 0 || secs >= etaInfinity {
		return "∞"
	}
	d := time.Duration(secs) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
