package evidence

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"matchrag/internal/domain"
)

func results(texts ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = domain.SearchResult{Document: domain.Document{Text: t}, Score: 1 - float64(i)/100}
	}
	return out
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "Arsenal vs Chelsea", Query("Arsenal", "Chelsea", ""))
	assert.Equal(t, "Arsenal vs Chelsea in Premier League", Query("Arsenal", "Chelsea", "Premier League"))
}

func TestClassify_Priority(t *testing.T) {
	ev := Classify(results(
		"Match: Arsenal vs Chelsea",
		"Match: Arsenal vs Fulham",
		"Match: Everton vs Chelsea",
		"Match: Everton vs Fulham",
	), "Arsenal", "Chelsea", 3)

	assert.Equal(t, []string{"Match: Arsenal vs Chelsea"}, ev.HeadToHead)
	assert.Equal(t, []string{"Match: Arsenal vs Fulham"}, ev.HomeRecent)
	assert.Equal(t, []string{"Match: Everton vs Chelsea"}, ev.AwayRecent)
	assert.Equal(t, 3, ev.Len())
}

func TestClassify_CapacityKeepsRetrievalOrder(t *testing.T) {
	var texts []string
	for i := 0; i < 10; i++ {
		texts = append(texts, fmt.Sprintf("Match: Arsenal vs Chelsea #%d", i))
	}
	ev := Classify(results(texts...), "Arsenal", "Chelsea", 3)
	assert.Equal(t, texts[:3], ev.HeadToHead)
	assert.Empty(t, ev.HomeRecent)
	assert.Empty(t, ev.AwayRecent)
}

func TestClassify_FullBucketDoesNotSpill(t *testing.T) {
	ev := Classify(results(
		"Arsenal vs Chelsea 1",
		"Arsenal vs Chelsea 2",
		"Arsenal vs Chelsea 3",
		"Arsenal vs Chelsea 4",
	), "Arsenal", "Chelsea", 3)
	assert.Len(t, ev.HeadToHead, 3)
	assert.Empty(t, ev.HomeRecent)
	assert.Empty(t, ev.AwayRecent)
}

func TestClassify_CaseSensitiveSubstring(t *testing.T) {
	ev := Classify(results(
		"Match: arsenal vs chelsea",
		"Match: Inter Miami vs Orlando",
	), "Inter", "Chelsea", 3)
	assert.Empty(t, ev.HeadToHead)
	assert.Equal(t, []string{"Match: Inter Miami vs Orlando"}, ev.HomeRecent)
	assert.Empty(t, ev.AwayRecent)
}

func TestClassify_DefaultCapacity(t *testing.T) {
	ev := Classify(results("A B", "A B", "A B", "A B", "A B"), "A", "B", 0)
	assert.Len(t, ev.HeadToHead, DefaultBucketSize)
}
