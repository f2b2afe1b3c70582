package odesli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/kyle/internal/tools"
)

const linksResponse = `{
	"entityUniqueId": "SPOTIFY_SONG::abc",
	"userCountry": "GB",
	"pageUrl": "https://song.link/s/abc",
	"linksByPlatform": {
		"spotify": {"url": "https://open.spotify.com/track/abc", "entityUniqueId": "SPOTIFY_SONG::abc"},
		"appleMusic": {"url": "https://music.apple.com/gb/album/x?i=1", "entityUniqueId": "ITUNES_SONG::1"}
	},
	"entitiesByUniqueId": {
		"SPOTIFY_SONG::abc": {"id": "abc", "type": "song", "title": "Teardrop", "artistName": "Massive Attack"}
	}
}`

func TestConvertMusicLink(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		wantCountry string
	}{
		{"explicit country", map[string]any{"url": "https://open.spotify.com/track/abc", "userCountry": "GB"}, "GB"},
		{"default country", map[string]any{"url": "https://open.spotify.com/track/abc"}, "US"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/links", r.URL.Path)
				assert.Equal(t, "https://open.spotify.com/track/abc", r.URL.Query().Get("url"))
				assert.Equal(t, tt.wantCountry, r.URL.Query().Get("userCountry"))
				assert.Equal(t, "k", r.URL.Query().Get("key"))
				w.Write([]byte(linksResponse))
			}))
			defer srv.Close()
			reg := tools.NewRegistry(nil)
			Register(reg, NewClient(srv.URL, "k", "US", srv.Client(), nil))

			res := reg.Execute(context.Background(), nil, "convertMusicLink", tt.args)

			require.False(t, res.Failed(), res.Error)
			assert.JSONEq(t, `{"ok":{"pageUrl":"https://song.link/s/abc","title":"Teardrop","artist":"Massive Attack","links":{
				"spotify":"https://open.spotify.com/track/abc","appleMusic":"https://music.apple.com/gb/album/x?i=1"}}}`, res.String())
		})
	}
}

func TestConvertMusicLink_UnknownSong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":400,"code":"could_not_resolve_entity"}`))
	}))
	defer srv.Close()
	reg := tools.NewRegistry(nil)
	Register(reg, NewClient(srv.URL, "", "", srv.Client(), nil))

	res := reg.Execute(context.Background(), nil, "convertMusicLink", map[string]any{"url": "https://example.com/x"})

	assert.Contains(t, res.Error, "could_not_resolve_entity")
}
