package domain

import "context"

// MatchFact is the canonical form of one historical match row.
type MatchFact struct {
	HomeTeam    string `validate:"required"`
	AwayTeam    string `validate:"required"`
	HomeScore   int    `validate:"gte=0"`
	AwayScore   int    `validate:"gte=0"`
	Date        string
	Competition string
	Stage       string
	Season      string
	Matchday    int `validate:"gte=0"`
	Winner      string
}

// Document is the synthesized text of one match fact, as stored in the index.
type Document struct {
	ID   string
	Row  int
	Text string
}

// SearchResult represents a matching document with a relevance score.
type SearchResult struct {
	Document Document
	Score    float64
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore persists vectors and supports similarity search.
// Search results are ordered most to least similar; equal scores keep
// insertion order.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, docs []Document, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)
	Clear(ctx context.Context) error
}

// Generator turns an assembled prompt into model text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}
