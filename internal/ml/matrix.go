package ml

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/temcen/ratingrec/pkg/models"
)

// ErrNoData is returned when there is nothing to vectorize. Callers short-circuit to empty results.
var ErrNoData = errors.New("no data to vectorize")

// Index maps ids to stable row or column positions. Keys are kept in ascending order.
type Index[K cmp.Ordered] struct {
	keys []K
	pos  map[K]int
}

func NewIndex[K cmp.Ordered](keys []K) *Index[K] {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	pos := make(map[K]int, len(sorted))
	for i, k := range sorted {
		pos[k] = i
	}
	return &Index[K]{keys: sorted, pos: pos}
}

func (ix *Index[K]) Len() int { return len(ix.keys) }

func (ix *Index[K]) Key(i int) K { return ix.keys[i] }

func (ix *Index[K]) Position(k K) (int, bool) {
	i, ok := ix.pos[k]
	return i, ok
}

func (ix *Index[K]) Keys() []K { return slices.Clone(ix.keys) }

// RatingMatrix is the user-item matrix: one row per user, one column per product, 0 where unrated.
type RatingMatrix struct {
	Users    *Index[int64]
	Products *Index[string]
	Values   *mat.Dense

	ratingCount int
}

type cellKey struct {
	user    int64
	product string
}

// BuildRatingMatrix pivots ratings into a dense matrix, averaging duplicate (user, product) pairs.
func BuildRatingMatrix(ratings []models.Rating) (*RatingMatrix, error) {
	if len(ratings) == 0 {
		return nil, ErrNoData
	}

	type acc struct {
		sum   float64
		count int
	}
	cells := make(map[cellKey]*acc, len(ratings))
	users := make([]int64, 0, len(ratings))
	products := make([]string, 0, len(ratings))

	for _, r := range ratings {
		k := cellKey{user: r.UserID, product: r.ProductID}
		a, ok := cells[k]
		if !ok {
			a = &acc{}
			cells[k] = a
			users = append(users, r.UserID)
			products = append(products, r.ProductID)
		}
		a.sum += r.Value
		a.count++
	}

	m := &RatingMatrix{
		Users:       NewIndex(users),
		Products:    NewIndex(products),
		ratingCount: len(ratings),
	}
	m.Values = mat.NewDense(m.Users.Len(), m.Products.Len(), nil)

	for k, a := range cells {
		i, _ := m.Users.Position(k.user)
		j, _ := m.Products.Position(k.product)
		m.Values.Set(i, j, a.sum/float64(a.count))
	}

	return m, nil
}

func (m *RatingMatrix) Dims() (users, products int) { return m.Values.Dims() }

// RatingCount is the number of raw rating rows the matrix was built from.
func (m *RatingMatrix) RatingCount() int { return m.ratingCount }

// Row returns the user's ratings. The slice aliases the matrix and must not be modified.
func (m *RatingMatrix) Row(i int) []float64 { return m.Values.RawRowView(i) }

// UserRow resolves a user id to its row.
func (m *RatingMatrix) UserRow(userID int64) (int, []float64, error) {
	i, ok := m.Users.Position(userID)
	if !ok {
		return 0, nil, fmt.Errorf("user %d not in rating matrix", userID)
	}
	return i, m.Row(i), nil
}

// RatedCount counts the products user row i has rated.
func (m *RatingMatrix) RatedCount(i int) int {
	n := 0
	for _, v := range m.Row(i) {
		if v > 0 {
			n++
		}
	}
	return n
}

// FeatureMatrix holds one TF-IDF row per input document, in input order, over Terms.
// Values is nil when the vocabulary is empty.
type FeatureMatrix struct {
	Terms  []string
	Values *mat.Dense

	rows int
}

func (f *FeatureMatrix) Dims() (rows, terms int) { return f.rows, len(f.Terms) }

func (f *FeatureMatrix) Row(i int) []float64 {
	if f.Values == nil {
		return []float64{}
	}
	return f.Values.RawRowView(i)
}

// Similarity returns the pairwise cosine similarity of all rows.
func (f *FeatureMatrix) Similarity() (*mat.SymDense, error) {
	if f.rows == 0 {
		return nil, ErrNoData
	}
	if f.Values == nil {
		return mat.NewSymDense(f.rows, nil), nil
	}
	return PairwiseCosine(f.Values)
}
