package sqlite

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"matchrag/internal/domain"
	"matchrag/internal/vectorstore"
)

const docsSchema = `
CREATE TABLE IF NOT EXISTS docs (
    id TEXT PRIMARY KEY,
    row_num INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL
);
`

// Storage keeps documents and their embeddings in a SQLite file and ranks
// them by brute-force cosine similarity. Rowid order is insertion order.
type Storage struct {
	db *sqlx.DB

	mu        sync.RWMutex
	dimension int
}

type docRow struct {
	ID        string `db:"id"`
	Row       int    `db:"row_num"`
	Content   string `db:"content"`
	Embedding []byte `db:"embedding"`
}

// Open opens (or creates) the database at path. ":memory:" works for tests.
func Open(path string) (*Storage, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)
	return New(db), nil
}

func New(db *sqlx.DB) *Storage { return &Storage{db: db} }

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return vectorstore.ErrInvalidDimension
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, docsSchema); err != nil {
		return errors.Wrap(err, "create docs table")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM docs`); err != nil {
		return errors.Wrap(err, "reset docs table")
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, docs []domain.Document, vectors [][]float64) error {
	if len(docs) != len(vectors) {
		return errors.New("documents and vectors length mismatch")
	}
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO docs(id, row_num, content, embedding) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	for i, d := range docs {
		if len(vectors[i]) != s.dimension {
			return errors.Wrapf(vectorstore.ErrDimensionMismatch, "got %d, want %d", len(vectors[i]), s.dimension)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Row, d.Text, EncodeEmbedding(vectors[i])); err != nil {
			return errors.Wrapf(err, "insert document %s", d.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit upsert")
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []docRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, row_num, content, embedding FROM docs ORDER BY rowid`); err != nil {
		return nil, errors.Wrap(err, "load documents")
	}
	scores := make([]float64, len(rows))
	for i, r := range rows {
		emb, err := DecodeEmbedding(r.Embedding)
		if err != nil {
			return nil, errors.Wrapf(err, "document %s", r.ID)
		}
		scores[i] = vectorstore.Cosine(emb, vector)
	}
	idxs := vectorstore.RankDesc(scores, topK)
	results := make([]domain.SearchResult, 0, len(idxs))
	for _, j := range idxs {
		r := rows[j]
		results = append(results, domain.SearchResult{
			Document: domain.Document{ID: r.ID, Row: r.Row, Text: r.Content},
			Score:    scores[j],
		})
	}
	return results, nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, docsSchema); err != nil {
		return errors.Wrap(err, "create docs table")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM docs`)
	return errors.Wrap(err, "clear docs table")
}

// Len reports the number of stored documents.
func (s *Storage) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM docs`)
	return n, errors.Wrap(err, "count documents")
}

func (s *Storage) Close() error { return s.db.Close() }

// EncodeEmbedding stores a vector as little-endian float32 values without a
// length prefix.
func EncodeEmbedding(vec []float64) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
	}
	return b
}

func DecodeEmbedding(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, errors.Newf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float64, len(b)/4)
	for i := range vec {
		vec[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return vec, nil
}
