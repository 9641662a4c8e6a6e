package database

import (
	"context"
	"fmt"

	"github.com/temcen/ratingrec/pkg/models"
)

type StatsRepository struct {
	db DBTX
}

func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

// Stats collects catalog and result-set totals in a single round trip.
func (r *StatsRepository) Stats(ctx context.Context) (*models.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM amazon_products),
			(SELECT COUNT(*) FROM amazon_categories),
			(SELECT COUNT(*) FROM product_ratings),
			COUNT(r.*),
			COUNT(DISTINCT r.user_id),
			COALESCE(ROUND(AVG(r.predicted_rating)::numeric, 3), 0)::float8
		FROM recommendations r
		JOIN recommendation_generations g ON g.id = r.generation_id AND g.status = 'active'`

	var s models.Stats
	err := r.db.QueryRow(ctx, query).Scan(
		&s.TotalUsers, &s.TotalProducts, &s.TotalCategories, &s.TotalRatings,
		&s.TotalRecommendations, &s.UsersWithRecs, &s.AvgPredictedRating,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	return &s, nil
}
