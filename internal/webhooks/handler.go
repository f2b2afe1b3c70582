// Package webhooks receives Radarr and Sonarr download notifications and
// tells the users who asked for the media that it is ready.
package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/kyle/internal/history"
)

// maxBody caps webhook request bodies.
const maxBody = 1 << 20

// MediaNotifier is the part of Notifier the handler needs.
type MediaNotifier interface {
	Notify(ctx context.Context, m Media, ids map[string]int) (int, error)
}

// Handler serves POST /webhooks/radarr and POST /webhooks/sonarr.
type Handler struct {
	notifier     MediaNotifier
	username     string
	passwordHash []byte
	logger       *slog.Logger
}

// NewHandler creates a webhook handler. An empty username disables
// basic auth; otherwise passwordHash is the bcrypt hash of the shared
// password.
func NewHandler(notifier MediaNotifier, username, passwordHash string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		notifier:     notifier,
		username:     username,
		passwordHash: []byte(passwordHash),
		logger:       logger.With("component", "webhooks"),
	}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/radarr", h.authenticated(h.handleRadarr))
	mux.HandleFunc("POST /webhooks/sonarr", h.authenticated(h.handleSonarr))
}

func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	if h.username == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) != 1 ||
			bcrypt.CompareHashAndPassword(h.passwordHash, []byte(pass)) != nil {
			h.logger.Warn("webhook rejected: bad credentials", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="kyle"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleRadarr(w http.ResponseWriter, r *http.Request) {
	var p RadarrPayload
	if !h.decode(w, r, &p) {
		return
	}
	h.logger.Info("radarr webhook received", "event_type", p.EventType, "title", p.Movie.Title)
	if !h.dispatchable(w, p.EventType, p.IsUpgrade) {
		return
	}

	m := Media{Kind: history.MediaMovie, Title: p.Movie.Title, Year: p.Movie.Year}
	if p.Release != nil {
		m.Quality, m.ReleaseGroup = p.Release.Quality, p.Release.ReleaseGroup
	}
	h.notify(w, r, m, nonZero(map[string]int{"tmdbId": p.Movie.TMDBID, "radarrId": p.Movie.ID}))
}

func (h *Handler) handleSonarr(w http.ResponseWriter, r *http.Request) {
	var p SonarrPayload
	if !h.decode(w, r, &p) {
		return
	}
	h.logger.Info("sonarr webhook received", "event_type", p.EventType, "title", p.Series.Title, "episodes", len(p.Episodes))
	if !h.dispatchable(w, p.EventType, p.IsUpgrade) {
		return
	}

	m := Media{Kind: history.MediaSeries, Title: p.Series.Title, Year: p.Series.Year, Episodes: p.Episodes}
	if p.Release != nil {
		m.Quality, m.ReleaseGroup = p.Release.Quality, p.Release.ReleaseGroup
	}
	h.notify(w, r, m, nonZero(map[string]int{"tvdbId": p.Series.TVDBID, "sonarrId": p.Series.ID}))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		h.logger.Warn("webhook body rejected", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return false
	}
	return true
}

// dispatchable answers Test and non-download events itself and reports
// whether the caller should notify.
func (h *Handler) dispatchable(w http.ResponseWriter, eventType string, upgrade bool) bool {
	switch {
	case eventType == EventTest:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "test received"})
		return false
	case eventType == EventUpgrade || (eventType == EventDownload && upgrade):
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "upgrade"})
		return false
	case eventType != EventDownload:
		h.logger.Debug("ignoring webhook event", "event_type", eventType)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "unknown event"})
		return false
	}
	return true
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request, m Media, ids map[string]int) {
	n, err := h.notifier.Notify(r.Context(), m, ids)
	if err != nil {
		h.logger.Error("webhook notification failed", "title", m.Title, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "notified": n})
}

func nonZero(ids map[string]int) map[string]int {
	for k, v := range ids {
		if v == 0 {
			delete(ids, k)
		}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
