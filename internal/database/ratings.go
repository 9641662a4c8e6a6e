package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/temcen/ratingrec/pkg/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

type RatingRepository struct {
	db DBTX
}

func NewRatingRepository(db DBTX) *RatingRepository {
	return &RatingRepository{db: db}
}

// LoadRatings reads every (user, product, rating) row, or the first limit rows when limit > 0.
// Ratings for products missing from the catalog are kept; the matrix does not need product details.
func (r *RatingRepository) LoadRatings(ctx context.Context, limit int) ([]models.Rating, error) {
	query := `
		SELECT user_id, product_id, rating
		FROM product_ratings
		WHERE rating IS NOT NULL
		ORDER BY user_id, product_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}

	ratings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Rating, error) {
		var rt models.Rating
		err := row.Scan(&rt.UserID, &rt.ProductID, &rt.Value)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ratings: %w", err)
	}

	return ratings, nil
}

// UserRatings returns a user's ratings joined with product details, best rated first.
func (r *RatingRepository) UserRatings(ctx context.Context, userID int64) ([]models.UserRating, error) {
	query := `
		SELECT r.product_id, r.rating, r.rated_at, p.title, p.price, c.category_name
		FROM product_ratings r
		LEFT JOIN amazon_products p ON r.product_id = p.asin
		LEFT JOIN amazon_categories c ON p.category_id = c.id
		WHERE r.user_id = $1
		ORDER BY r.rating DESC, r.product_id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ratings: %w", err)
	}

	ratings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.UserRating, error) {
		var ur models.UserRating
		err := row.Scan(&ur.ProductID, &ur.Rating, &ur.RatedAt, &ur.ProductName, &ur.Price, &ur.CategoryName)
		return ur, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan user ratings: %w", err)
	}

	return ratings, nil
}
