package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"goflare.io/encore"
)

func TestRenderResults(t *testing.T) {
	var buf bytes.Buffer
	renderResults(&buf, &encore.ResultSet{
		Records: []encore.Record{
			{Title: "Blue in Green", Artist: "Miles Davis", Platform: "qobuz", Score: 13, Duration: 337 * time.Second, URL: "https://open.qobuz.com/track/1"},
			{Title: "Blue", Platform: "deezer", Score: 12},
		},
		Unavailable: []string{"tidal"},
		Cached:      true,
	})

	out := buf.String()
	assert.Contains(t, out, "2 results")
	assert.Contains(t, out, "cached")
	assert.Contains(t, out, "unavailable: tidal")
	assert.Contains(t, out, "Blue in Green - Miles Davis [5m37s]")
	assert.Contains(t, out, "https://open.qobuz.com/track/1")
	assert.Contains(t, out, "deezer")
}

func TestRenderResultsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderResults(&buf, &encore.ResultSet{})
	assert.Contains(t, buf.String(), "Nothing found.")
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, encore.Status{
		Store:     "memory",
		Threshold: 3,
		Platforms: []encore.PlatformStatus{
			{Name: "qobuz", Enabled: true, HasClient: true, ClientID: "0123456789abcdef", ClientIdle: 3 * time.Second},
			{Name: "tidal", Enabled: true, CircuitOpen: true, Failures: 3},
			{Name: "spotify"},
		},
		Metrics: encore.Metrics{Searches: 4, Hits: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "store: memory")
	assert.Contains(t, out, "client 01234567 idle 3s")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "failures 3/3")
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "searches 4  hits 1")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 20))
	assert.Equal(t, "Blue in…", truncate("Blue in Green", 8))
	assert.Equal(t, "Blue in…", truncate("Blue in Green", 2))
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}
