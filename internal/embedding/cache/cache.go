// Package cache memoises embeddings of corpus-independent embedders so that
// rebuilding the knowledge base does not re-embed unchanged match documents.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"matchrag/internal/domain"
	"matchrag/internal/logging"
	"matchrag/internal/metrics"
)

// Store keeps vectors by key.
type Store interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vec []float64) error
}

// Embedder wraps another embedder with a cache. Cache failures are logged and
// fall through to the wrapped embedder.
type Embedder struct {
	inner  domain.Embedder
	store  Store
	logger *logging.Logger
}

func New(inner domain.Embedder, store Store, logger *logging.Logger) *Embedder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Embedder{inner: inner, store: store, logger: logger.With("component", "embedding_cache")}
}

func (e *Embedder) Name() string { return e.inner.Name() }

func (e *Embedder) Prepare(corpus []string) error { return e.inner.Prepare(corpus) }

func (e *Embedder) Dimension() int { return e.inner.Dimension() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := Key(e.inner.Name(), text)
	vec, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "err", err)
	}
	if ok && (e.inner.Dimension() == 0 || len(vec) == e.inner.Dimension()) {
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return vec, nil
	}
	metrics.EmbeddingCache.WithLabelValues("miss").Inc()

	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, key, vec); err != nil {
		e.logger.Warn("embedding cache write failed", "err", err)
	}
	return vec, nil
}

// Key derives the cache key for a model and text.
func Key(model, text string) string {
	h := sha1.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "matchrag:emb:" + hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is an unbounded in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	vecs map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vecs: make(map[string][]float64)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vecs[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vecs[key] = append([]float64(nil), vec...)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vecs)
}
