// Package index builds and queries the semantic index over match documents.
package index

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"

	"matchrag/internal/domain"
	"matchrag/internal/logging"
)

// ErrUninitialized is returned when querying an index that was never built.
var ErrUninitialized = errors.New("index not built")

const defaultWorkers = 4

// Index embeds documents into a vector store and answers similarity queries.
// A built Index is read-only; rebuilding is done by building a new one.
type Index struct {
	embedder domain.Embedder
	store    domain.VectorStore
	workers  int
	logger   *logging.Logger

	mu    sync.RWMutex
	built bool
	docs  []domain.Document
}

type Option func(*Index)

// WithWorkers bounds the number of concurrent Embed calls during Build.
func WithWorkers(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.workers = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

func New(embedder domain.Embedder, store domain.VectorStore, opts ...Option) *Index {
	ix := &Index{embedder: embedder, store: store, workers: defaultWorkers, logger: logging.Default()}
	for _, o := range opts {
		o(ix)
	}
	ix.logger = ix.logger.With("component", "index")
	return ix
}

// Build prepares the embedder on the corpus, embeds every document and loads
// the vector store. An empty corpus yields an empty, queryable index.
func (ix *Index) Build(ctx context.Context, docs []domain.Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.built = false
	ix.docs = nil

	if len(docs) == 0 {
		if err := ix.store.Clear(ctx); err != nil {
			return errors.Wrap(err, "clear vector store")
		}
		ix.built = true
		ix.logger.Warn("index built with no documents")
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	if err := ix.embedder.Prepare(texts); err != nil {
		return errors.Wrap(err, "prepare embedder")
	}
	vectors, err := ix.embedAll(ctx, texts)
	if err != nil {
		return err
	}

	dim := ix.embedder.Dimension()
	if dim == 0 {
		dim = len(vectors[0])
	}
	if err := ix.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear vector store")
	}
	if err := ix.store.Init(ctx, dim); err != nil {
		return errors.Wrap(err, "init vector store")
	}
	if err := ix.store.Upsert(ctx, docs, vectors); err != nil {
		return errors.Wrap(err, "upsert documents")
	}

	ix.docs = append([]domain.Document(nil), docs...)
	ix.built = true
	ix.logger.Info("index built", "documents", len(docs), "embedder", ix.embedder.Name(), "dimension", dim)
	return nil
}

// embedAll embeds texts on a bounded pool. Results are written by position so
// the vector order matches the document order.
func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float64, error) {
	pool, err := ants.NewPool(ix.workers)
	if err != nil {
		return nil, errors.Wrap(err, "create embedding pool")
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float64, len(texts))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for i := range texts {
		i := i
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vec, err := ix.embedder.Embed(ctx, texts[i])
			if err != nil {
				fail(errors.Wrapf(err, "embed document %d", i))
				return
			}
			vectors[i] = vec
		}); err != nil {
			wg.Done()
			fail(errors.Wrap(err, "submit embedding task"))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Query returns at most topK documents, most similar first. When the query
// has no usable vector, or nothing scores above zero, it ranks documents by
// token overlap instead.
func (ix *Index) Query(ctx context.Context, text string, topK int) ([]domain.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.built {
		return nil, ErrUninitialized
	}
	if len(ix.docs) == 0 {
		return nil, nil
	}

	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	if isZero(vec) {
		ix.logger.Debug("zero query vector, using lexical ranking", "query", text)
		return lexicalSearch(ix.docs, text, topK), nil
	}
	res, err := ix.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, errors.Wrap(err, "search vector store")
	}
	allZero := true
	for _, r := range res {
		if r.Score > 1e-9 {
			allZero = false
			break
		}
	}
	if allZero {
		return lexicalSearch(ix.docs, text, topK), nil
	}
	return res, nil
}

// Len reports the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

func lexicalSearch(docs []domain.Document, query string, topK int) []domain.SearchResult {
	qset := tokenSet(query)
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(docs))
	for i, d := range docs {
		scores[i] = pair{i, overlapOchiai(qset, d.Text)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK <= 0 || topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.SearchResult, 0, topK)
	for _, p := range scores[:topK] {
		out = append(out, domain.SearchResult{Document: docs[p.idx], Score: p.score})
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over distinct lowercase tokens.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := tokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
