package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/platform"
)

// fieldMap lists, per record field, the paths tried in order inside a raw item.
type fieldMap struct {
	id       []string
	title    []string
	artist   []string
	album    []string
	cover    []string
	url      []string
	kind     []string
	duration []string
	unit     time.Duration
	// link builds a URL from the media type and id when the item carries none.
	link string
}

var genericFields = fieldMap{
	id:       []string{"id", "uri"},
	title:    []string{"title", "name"},
	artist:   []string{"artist.name", "artist", "performer.name", "artists.0.name", "user.username"},
	album:    []string{"album.title", "album.name", "album"},
	cover:    []string{"cover_url", "cover", "artwork_url", "image", "album.cover"},
	url:      []string{"url", "link", "permalink_url"},
	kind:     []string{"type", "kind"},
	duration: []string{"duration"},
	unit:     time.Second,
}

var platformFields = map[string]fieldMap{
	"qobuz": {
		id:       []string{"id"},
		title:    []string{"title", "name"},
		artist:   []string{"performer.name", "artist.name", "album.artist.name"},
		album:    []string{"album.title"},
		cover:    []string{"album.image.large", "image.large", "image.small"},
		url:      []string{"url"},
		kind:     []string{"type"},
		duration: []string{"duration"},
		unit:     time.Second,
		link:     "https://open.qobuz.com/%s/%s",
	},
	"tidal": {
		id:       []string{"id"},
		title:    []string{"title", "name"},
		artist:   []string{"artist.name", "artists.0.name"},
		album:    []string{"album.title"},
		cover:    []string{"album.cover", "cover", "picture"},
		url:      []string{"url"},
		kind:     []string{"type"},
		duration: []string{"duration"},
		unit:     time.Second,
		link:     "https://tidal.com/browse/%s/%s",
	},
	"deezer": {
		id:       []string{"id"},
		title:    []string{"title", "name"},
		artist:   []string{"artist.name", "contributors.0.name", "user.name"},
		album:    []string{"album.title"},
		cover:    []string{"album.cover_xl", "cover_xl", "picture_xl"},
		url:      []string{"link"},
		kind:     []string{"type"},
		duration: []string{"duration"},
		unit:     time.Second,
		link:     "https://www.deezer.com/%s/%s",
	},
	"spotify": {
		id:       []string{"id"},
		title:    []string{"name"},
		artist:   []string{"artists.0.name", "owner.display_name"},
		album:    []string{"album.name"},
		cover:    []string{"album.images.0.url", "images.0.url"},
		url:      []string{"external_urls.spotify"},
		kind:     []string{"type"},
		duration: []string{"duration_ms"},
		unit:     time.Millisecond,
		link:     "https://open.spotify.com/%s/%s",
	},
	"soundcloud": {
		id:       []string{"id"},
		title:    []string{"title", "username"},
		artist:   []string{"user.username", "publisher_metadata.artist"},
		cover:    []string{"artwork_url", "avatar_url", "user.avatar_url"},
		url:      []string{"permalink_url"},
		kind:     []string{"kind"},
		duration: []string{"duration", "full_duration"},
		unit:     time.Millisecond,
	},
}

// Platform type names that do not match a MediaType directly.
var kindAliases = map[string]models.MediaType{
	"user":   models.MediaTypeArtist,
	"single": models.MediaTypeAlbum,
	"ep":     models.MediaTypeAlbum,
}

// Normalize converts one raw item into a Record. Items without a title are dropped.
func Normalize(platformName string, item platform.RawItem, requested models.MediaType) (models.Record, bool) {
	fm, ok := platformFields[platformName]
	if !ok {
		fm = genericFields
	}

	rec := models.Record{
		ID:       lookupString(item, fm.id),
		Title:    lookupString(item, fm.title),
		Artist:   lookupString(item, fm.artist),
		Album:    lookupString(item, fm.album),
		CoverURL: lookupString(item, fm.cover),
		URL:      lookupString(item, fm.url),
		Platform: platformName,
		Type:     mediaType(lookupString(item, fm.kind), requested),
	}
	if rec.Title == "" {
		return models.Record{}, false
	}
	if n := cast.ToFloat64(platform.LookupFirst(item, fm.duration...)); n > 0 {
		rec.Duration = time.Duration(n * float64(fm.unit))
	}
	if rec.URL == "" && fm.link != "" && rec.ID != "" {
		rec.URL = fmt.Sprintf(fm.link, rec.Type, rec.ID)
	}
	return rec, true
}

// NormalizeAll converts items, keeping the platform's native order.
func NormalizeAll(platformName string, items []platform.RawItem, requested models.MediaType) []models.Record {
	out := make([]models.Record, 0, len(items))
	for _, item := range items {
		if rec, ok := Normalize(platformName, item, requested); ok {
			out = append(out, rec)
		}
	}
	return out
}

func lookupString(item platform.RawItem, paths []string) string {
	for _, p := range paths {
		v := platform.Lookup(item, p)
		if v == nil {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		if s := strings.TrimSpace(cast.ToString(v)); s != "" {
			return s
		}
	}
	return ""
}

func mediaType(raw string, requested models.MediaType) models.MediaType {
	raw = strings.TrimSuffix(strings.ToLower(raw), "s")
	if mt, ok := kindAliases[raw]; ok {
		return mt
	}
	if mt, err := models.ParseMediaType(raw); err == nil && mt != models.MediaTypeAny {
		return mt
	}
	if requested != models.MediaTypeAny {
		return requested
	}
	return models.MediaTypeTrack
}
