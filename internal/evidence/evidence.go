// Package evidence sorts retrieved match documents into head-to-head and
// recent-form buckets for one fixture.
package evidence

import (
	"strings"

	"matchrag/internal/domain"
)

// DefaultBucketSize caps each bucket.
const DefaultBucketSize = 3

// Evidence holds the document texts chosen for a fixture, each bucket in
// retrieval order.
type Evidence struct {
	HeadToHead []string `json:"head_to_head"`
	HomeRecent []string `json:"home_recent"`
	AwayRecent []string `json:"away_recent"`
}

// Len is the total number of documents kept.
func (e Evidence) Len() int {
	return len(e.HeadToHead) + len(e.HomeRecent) + len(e.AwayRecent)
}

// Query builds the retrieval text for a fixture.
func Query(home, away, competition string) string {
	q := home + " vs " + away
	if competition != "" {
		q += " in " + competition
	}
	return q
}

// Classify assigns each result to at most one bucket. A document naming both
// teams is head-to-head, otherwise it counts toward whichever team it names,
// home first. Names are matched as case-sensitive substrings, so "Inter"
// also matches "Inter Miami". Buckets stop accepting documents at capacity.
func Classify(results []domain.SearchResult, home, away string, capacity int) Evidence {
	if capacity <= 0 {
		capacity = DefaultBucketSize
	}
	var ev Evidence
	for _, r := range results {
		text := r.Document.Text
		hasHome := strings.Contains(text, home)
		hasAway := strings.Contains(text, away)
		switch {
		case hasHome && hasAway:
			if len(ev.HeadToHead) < capacity {
				ev.HeadToHead = append(ev.HeadToHead, text)
			}
		case hasHome:
			if len(ev.HomeRecent) < capacity {
				ev.HomeRecent = append(ev.HomeRecent, text)
			}
		case hasAway:
			if len(ev.AwayRecent) < capacity {
				ev.AwayRecent = append(ev.AwayRecent, text)
			}
		}
	}
	return ev
}
