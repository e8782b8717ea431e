package models

import (
	"fmt"
	"strings"
	"time"
)

// MediaType identifies the kind of item a search returns.
type MediaType string

const (
	MediaTypeAny      MediaType = ""
	MediaTypeTrack    MediaType = "track"
	MediaTypeAlbum    MediaType = "album"
	MediaTypeArtist   MediaType = "artist"
	MediaTypePlaylist MediaType = "playlist"
)

// ParseMediaType validates a user supplied media type filter.
func ParseMediaType(s string) (MediaType, error) {
	switch mt := MediaType(strings.ToLower(strings.TrimSpace(s))); mt {
	case MediaTypeAny, MediaTypeTrack, MediaTypeAlbum, MediaTypeArtist, MediaTypePlaylist:
		return mt, nil
	default:
		return "", fmt.Errorf("unsupported media type: %q", s)
	}
}

// Record is a search result normalized across platforms.
type Record struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Platform string        `json:"platform"`
	Type     MediaType     `json:"type"`
	URL      string        `json:"url,omitempty"`
	CoverURL string        `json:"cover_url,omitempty"`
	Score    int           `json:"score"`
}

// ResultSet is the ranked, merged outcome of one search.
type ResultSet struct {
	Records     []Record  `json:"records"`
	Unavailable []string  `json:"unavailable,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Cached      bool      `json:"-"`
}

// Empty reports whether the search matched nothing.
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Records) == 0
}

// Clone returns a copy that callers may modify without touching cached state.
func (rs *ResultSet) Clone() *ResultSet {
	if rs == nil {
		return nil
	}
	out := *rs
	out.Records = append([]Record(nil), rs.Records...)
	out.Unavailable = append([]string(nil), rs.Unavailable...)
	return &out
}
