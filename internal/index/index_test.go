package index

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchrag/internal/domain"
	"matchrag/internal/embedding/tfidf"
	"matchrag/internal/vectorstore/memory"
)

// keywordEmbedder scores a text by which of a fixed set of keywords it holds.
type keywordEmbedder struct {
	keywords []string
	calls    atomic.Int32
	failOn   string
}

func (e *keywordEmbedder) Name() string           { return "keywords" }
func (e *keywordEmbedder) Prepare([]string) error { return nil }
func (e *keywordEmbedder) Dimension() int         { return len(e.keywords) }
func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding backend rejected input")
	}
	vec := make([]float64, len(e.keywords))
	for i, k := range e.keywords {
		if strings.Contains(text, k) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func docs(texts ...string) []domain.Document {
	out := make([]domain.Document, len(texts))
	for i, t := range texts {
		out[i] = domain.Document{ID: t, Row: i + 1, Text: t}
	}
	return out
}

func TestIndex_QueryBeforeBuild(t *testing.T) {
	ix := New(&keywordEmbedder{keywords: []string{"a"}}, memory.NewStorage())
	_, err := ix.Query(context.Background(), "a", 3)
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestIndex_EmptyBuildIsQueryable(t *testing.T) {
	ix := New(tfidf.NewEmbedder(), memory.NewStorage())
	require.NoError(t, ix.Build(context.Background(), nil))

	res, err := ix.Query(context.Background(), "Arsenal vs Chelsea", 10)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, ix.Len())
}

func TestIndex_RankingKeepsInsertionOrderOnTies(t *testing.T) {
	emb := &keywordEmbedder{keywords: []string{"Arsenal", "Chelsea", "Spurs"}}
	ix := New(emb, memory.NewStorage(), WithWorkers(2))
	corpus := docs(
		"Arsenal vs Spurs",
		"Chelsea vs Spurs",
		"Arsenal vs Chelsea",
		"Spurs vs Arsenal",
		"Chelsea vs Arsenal",
	)
	require.NoError(t, ix.Build(context.Background(), corpus))
	assert.Equal(t, 5, ix.Len())
	assert.EqualValues(t, 5, emb.calls.Load())

	res, err := ix.Query(context.Background(), "Arsenal vs Chelsea", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "Arsenal vs Chelsea", res[0].Document.Text)
	assert.Equal(t, "Chelsea vs Arsenal", res[1].Document.Text)
	assert.Equal(t, "Arsenal vs Spurs", res[2].Document.Text)
}

func TestIndex_BuildFailsOnEmbedError(t *testing.T) {
	emb := &keywordEmbedder{keywords: []string{"x"}, failOn: "bad"}
	ix := New(emb, memory.NewStorage())
	err := ix.Build(context.Background(), docs("good one", "bad one", "good two"))
	require.Error(t, err)

	_, err = ix.Query(context.Background(), "good", 1)
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestIndex_LexicalFallbackForUnknownTerms(t *testing.T) {
	ix := New(tfidf.NewEmbedder(), memory.NewStorage())
	corpus := docs(
		"Match: Arsenal vs Chelsea\nScore: Arsenal 2 - 1 Chelsea",
		"Match: Everton vs Fulham\nScore: Everton 0 - 0 Fulham",
	)
	require.NoError(t, ix.Build(context.Background(), corpus))

	// none of these tokens are in the tfidf vocabulary
	res, err := ix.Query(context.Background(), "zzz qqq", 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = ix.Query(context.Background(), "Everton", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Document.Text, "Everton")
}

func TestOverlapOchiai(t *testing.T) {
	q := tokenSet("Arsenal Chelsea")
	assert.InDelta(t, 1.0, overlapOchiai(q, "chelsea arsenal"), 1e-9)
	assert.InDelta(t, 0.5, overlapOchiai(q, "Arsenal Fulham"), 1e-9)
	assert.Zero(t, overlapOchiai(q, ""))
	assert.Zero(t, overlapOchiai(tokenSet(""), "Arsenal"))
}
