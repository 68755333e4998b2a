// Package tfidf is a local, corpus-fitted embedder for match documents.
package tfidf

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNotPrepared is returned by Embed before Prepare succeeded.
var ErrNotPrepared = errors.New("tfidf embedder not prepared")

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// Field labels repeat in every match document and carry no signal.
var documentLabels = []string{
	"match", "vs", "competition", "stage", "season", "date", "matchday", "score", "result",
}

var englishStopwords = []string{
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
	"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
	"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
	"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same",
	"too", "very", "can", "will", "just", "don", "should", "now",
}

// Embedder fits a vocabulary and smoothed IDF weights on the corpus it is
// prepared with. Embed may run concurrently with a later Prepare; it sees
// either the old fit or the new one.
type Embedder struct {
	stopwords map[string]struct{}

	mu         sync.RWMutex
	vocabulary map[string]int
	idf        []float64
}

// NewEmbedder creates an unprepared embedder.
func NewEmbedder() *Embedder {
	stop := make(map[string]struct{}, len(englishStopwords)+len(documentLabels))
	for _, list := range [][]string{englishStopwords, documentLabels} {
		for _, w := range list {
			stop[w] = struct{}{}
		}
	}
	return &Embedder{stopwords: stop}
}

func (e *Embedder) Name() string { return "tfidf" }

// Prepare fits the vocabulary to corpus, replacing any earlier fit.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		for term := range e.termCounts(text) {
			df[term]++
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus")
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		vocabulary[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	e.mu.Lock()
	e.vocabulary, e.idf = vocabulary, idf
	e.mu.Unlock()
	return nil
}

// Dimension is the fitted vocabulary size, 0 before Prepare.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.idf)
}

// Embed computes the L2-normalised TF-IDF vector for text. Text with no known
// terms yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.mu.RLock()
	vocabulary, idf := e.vocabulary, e.idf
	e.mu.RUnlock()
	if vocabulary == nil {
		return nil, ErrNotPrepared
	}
	vec := make([]float64, len(idf))
	counts := e.termCounts(text)
	total := 0
	for term, c := range counts {
		if _, ok := vocabulary[term]; ok {
			total += c
		}
	}
	if total == 0 {
		return vec, nil
	}
	var sum float64
	for term, c := range counts {
		idx, ok := vocabulary[term]
		if !ok {
			continue
		}
		w := float64(c) / float64(total) * idf[idx]
		vec[idx] = w
		sum += w * w
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// termCounts lowercases and tokenises text, dropping stopwords.
func (e *Embedder) termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}
	return counts
}
