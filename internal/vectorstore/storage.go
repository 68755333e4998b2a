package vectorstore

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"matchrag/internal/domain"
)

// Storage persists vectors and supports similarity search.
type Storage = domain.VectorStore

var (
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Cosine returns the cosine similarity of a and b over their common length.
// A zero-magnitude vector scores 0.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(s) {
		return 0
	}
	return s
}

// RankDesc returns the indexes of the topK highest scores, best first. Equal
// scores keep their original (insertion) order. topK <= 0 returns all.
func RankDesc(scores []float64, topK int) []int {
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })
	if topK > 0 && topK < len(idxs) {
		idxs = idxs[:topK]
	}
	return idxs
}
