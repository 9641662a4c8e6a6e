package services

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/temcen/ratingrec/pkg/models"
)

const DefaultNeighbors = 20

// CollaborativeRecommender predicts ratings for unseen products as the similarity-weighted
// average of the ratings given by a user's nearest neighbours.
type CollaborativeRecommender struct {
	neighbors int
	now       func() time.Time
}

func NewCollaborativeRecommender(neighbors int) *CollaborativeRecommender {
	if neighbors <= 0 {
		neighbors = DefaultNeighbors
	}
	return &CollaborativeRecommender{neighbors: neighbors, now: time.Now}
}

type neighbor struct {
	row    int
	userID int64
	sim    float64
}

type candidate struct {
	productID string
	score     float64
	weight    float64
	predicted float64
}

// nearestNeighbours returns the k most similar other users with positive similarity, most similar
// first, ties broken by user id.
func nearestNeighbours(snap *ModelSnapshot, row, k int) []neighbor {
	users, _ := snap.Ratings.Dims()
	out := make([]neighbor, 0, users)
	for j := 0; j < users; j++ {
		if j == row {
			continue
		}
		if s := snap.UserSimilarity.At(row, j); s > 0 {
			out = append(out, neighbor{row: j, userID: snap.Ratings.Users.Key(j), sim: s})
		}
	}

	slices.SortFunc(out, func(a, b neighbor) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		return cmp.Compare(a.userID, b.userID)
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Recommend ranks products the user has not rated. It fails with ErrNotFound for users absent from
// the snapshot and returns an empty slice when no neighbour contributes a candidate.
func (cr *CollaborativeRecommender) Recommend(snap *ModelSnapshot, userID int64, topN int) ([]models.Recommendation, error) {
	if topN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1", ErrInvalidArgument)
	}

	row, target, err := snap.Ratings.UserRow(userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	_, products := snap.Ratings.Dims()
	acc := make([]candidate, products)

	for _, n := range nearestNeighbours(snap, row, cr.neighbors) {
		for j, rating := range snap.Ratings.Row(n.row) {
			if rating <= 0 || target[j] > 0 {
				continue
			}
			acc[j].score += n.sim * rating
			acc[j].weight += n.sim
		}
	}

	candidates := make([]candidate, 0)
	for j, c := range acc {
		if c.weight <= 0 {
			continue
		}
		c.productID = snap.Ratings.Products.Key(j)
		c.predicted = c.score / c.weight
		candidates = append(candidates, c)
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.predicted, a.predicted); c != 0 {
			return c
		}
		return cmp.Compare(a.productID, b.productID)
	})

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	generatedAt := cr.now().UTC()
	recs := make([]models.Recommendation, len(candidates))
	for i, c := range candidates {
		recs[i] = models.Recommendation{
			UserID:          userID,
			ProductID:       c.productID,
			PredictedRating: round(c.predicted, 3),
			Rank:            i + 1,
			GeneratedAt:     generatedAt,
		}
	}

	return recs, nil
}

// SimilarUsers lists the most similar other users, including ones with zero similarity.
func (cr *CollaborativeRecommender) SimilarUsers(snap *ModelSnapshot, userID int64, topN int) ([]models.SimilarUser, error) {
	if topN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1", ErrInvalidArgument)
	}

	row, _, err := snap.Ratings.UserRow(userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	users, _ := snap.Ratings.Dims()
	all := make([]neighbor, 0, users)
	for j := 0; j < users; j++ {
		if j != row {
			all = append(all, neighbor{row: j, userID: snap.Ratings.Users.Key(j), sim: snap.UserSimilarity.At(row, j)})
		}
	}
	slices.SortFunc(all, func(a, b neighbor) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		return cmp.Compare(a.userID, b.userID)
	})
	if len(all) > topN {
		all = all[:topN]
	}

	out := make([]models.SimilarUser, len(all))
	for i, n := range all {
		out[i] = models.SimilarUser{
			UserID:          n.userID,
			SimilarityScore: round(n.sim, 4),
			ProductsRated:   snap.Ratings.RatedCount(n.row),
		}
	}
	return out, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
