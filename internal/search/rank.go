package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"goflare.io/encore/internal/models"
)

const (
	titleExact       = 10
	titlePartial     = 3
	artistExact      = 5
	artistPartial    = 2
	minWordLen       = 2
	// maxFuzzyDistance caps the edits between a query word and a field word.
	maxFuzzyDistance = 2
)

// Score rates how well rec matches query. query must already be normalized.
func Score(rec models.Record, query string, bias int) int {
	words := strings.Fields(query)
	score := bias

	title := strings.ToLower(rec.Title)
	switch {
	case strings.Contains(title, query):
		score += titleExact
	case partialMatch(words, title):
		score += titlePartial
	}

	artist := strings.ToLower(rec.Artist)
	switch {
	case artist == "":
	case strings.Contains(artist, query):
		score += artistExact
	case partialMatch(words, artist):
		score += artistPartial
	}
	return score
}

// Rank scores every record and sorts them best first. Ties keep their merge order.
func Rank(records []models.Record, query string, bias func(platform string) int) {
	for i := range records {
		records[i].Score = Score(records[i], query, bias(records[i].Platform))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
}

// partialMatch reports whether any query word appears inside a word of field, or is
// within maxFuzzyDistance edits of one. A bare subsequence is not enough: "the" must
// not match "thriller".
func partialMatch(words []string, field string) bool {
	fieldWords := strings.Fields(field)
	for _, w := range words {
		if len(w) < minWordLen {
			continue
		}
		for _, fw := range fieldWords {
			if strings.Contains(fw, w) {
				return true
			}
			if d := fuzzy.RankMatchNormalizedFold(w, fw); d >= 0 && d <= maxFuzzyDistance {
				return true
			}
		}
	}
	return false
}
