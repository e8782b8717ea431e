package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/retrier"
)

func newQobuzServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["app_secret"] != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user_auth_token": "tok-1"})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "blue", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "eu", r.URL.Query().Get("region"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracks": map[string]any{
				"items": []any{
					map[string]any{"title": "Blue", "performer": map[string]any{"name": "Joni Mitchell"}},
					"not-an-object",
					map[string]any{"title": "Blue Train"},
				},
			},
		})
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func qobuzConfig(srv *httptest.Server) config.PlatformConfig {
	return config.PlatformConfig{
		Enabled:    true,
		AuthURL:    srv.URL + "/login",
		SearchURL:  srv.URL + "/search",
		ItemsPath:  map[string]string{"track": "tracks.items"},
		TokenField: "user_auth_token",
		Params:     map[string]string{"region": "eu"},
		AppID:      "app",
		AppSecret:  "s3cret",
	}
}

func TestHTTPClientAuthenticateAndSearch(t *testing.T) {
	srv := newQobuzServer(t)
	c, err := NewHTTPClient("qobuz", qobuzConfig(srv), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Authenticate(context.Background()))

	items, err := c.Search(context.Background(), Query{Text: "blue", Type: models.MediaTypeTrack, Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Blue", items[0]["title"])
	assert.Equal(t, "Joni Mitchell", Lookup(items[0], "performer.name"))
}

func TestHTTPClientRejectedCredentials(t *testing.T) {
	srv := newQobuzServer(t)
	cfg := qobuzConfig(srv)
	cfg.AppSecret = "wrong"
	c, err := NewHTTPClient("qobuz", cfg, nil)
	require.NoError(t, err)

	err = c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, retrier.IsTemporary(err))
}

func TestHTTPClientServerErrorIsTemporary(t *testing.T) {
	srv := newQobuzServer(t)
	cfg := qobuzConfig(srv)
	cfg.SearchURL = srv.URL + "/busy"
	cfg.AuthURL = ""
	c, err := NewHTTPClient("qobuz", cfg, nil)
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{Text: "blue"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "maintenance", se.Body)
	assert.True(t, retrier.IsTemporary(err))
}

func TestHTTPClientClose(t *testing.T) {
	srv := newQobuzServer(t)
	c, err := NewHTTPClient("qobuz", qobuzConfig(srv), nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
	_, err = c.Search(context.Background(), Query{Text: "blue"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Authenticate(context.Background()), ErrClosed)
}

func TestNewHTTPClientRequiresSearchURL(t *testing.T) {
	_, err := NewHTTPClient("tidal", config.PlatformConfig{}, nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"artists": []any{map[string]any{"name": "Daft Punk"}},
		"album":   map[string]any{"title": "Discovery"},
	}
	assert.Equal(t, "Daft Punk", Lookup(doc, "artists.0.name"))
	assert.Equal(t, "Discovery", Lookup(doc, "album.title"))
	assert.Nil(t, Lookup(doc, "artists.3.name"))
	assert.Nil(t, Lookup(doc, "album.title.x"))
	assert.Equal(t, doc, Lookup(doc, ""))
	assert.Equal(t, "Discovery", LookupFirst(doc, "performer.name", "album.title"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []string{KindHTTP}, r.Kinds())

	var got string
	r.Register("zotify", func(name string, _ config.PlatformConfig, _ *zap.Logger) (Client, error) {
		got = name
		return nil, nil
	})

	_, err := r.New("spotify", config.PlatformConfig{Kind: "zotify"})
	require.NoError(t, err)
	assert.Equal(t, "spotify", got)

	_, err = r.New("spotify", config.PlatformConfig{Kind: "librespot"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.New("deezer", config.PlatformConfig{})
	assert.ErrorIs(t, err, ErrMisconfigured, "falls back to the http adapter")
}
