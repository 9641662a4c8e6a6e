package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/ratingrec/pkg/models"
)

var recommendationColumns = []string{
	"generation_id", "user_id", "product_id", "predicted_rating", "rank", "generated_at",
}

// RecommendationRepository persists ranked results in generations. Writers fill a staging
// generation and publish it in one transaction; readers only ever join against the active one.
type RecommendationRepository struct {
	db DBTX
}

func NewRecommendationRepository(db DBTX) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

func (r *RecommendationRepository) BeginGeneration(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Exec(ctx, `
		INSERT INTO recommendation_generations (id, status, created_at)
		VALUES ($1, $2, now())`, id, models.GenerationStaging)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create generation: %w", err)
	}
	return id, nil
}

// SaveUserRecommendations replaces a user's rows within one generation.
func (r *RecommendationRepository) SaveUserRecommendations(ctx context.Context, generationID uuid.UUID, userID int64, recs []models.Recommendation) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return replaceUserRows(ctx, tx, generationID, userID, recs)
	})
}

func replaceUserRows(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, userID int64, recs []models.Recommendation) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM recommendations WHERE generation_id = $1 AND user_id = $2`, generationID, userID); err != nil {
		return fmt.Errorf("failed to clear user recommendations: %w", err)
	}

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{generationID, userID, rec.ProductID, rec.PredictedRating, rec.Rank, rec.GeneratedAt}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"recommendations"}, recommendationColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to write user recommendations: %w", err)
	}
	return nil
}

// Publish makes the staging generation active and deletes every previously active one along
// with its rows.
func (r *RecommendationRepository) Publish(ctx context.Context, generationID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE recommendation_generations SET status = $2
			WHERE status = $1 AND id <> $3`,
			models.GenerationActive, models.GenerationRetired, generationID)
		if err != nil {
			return fmt.Errorf("failed to retire active generation: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE recommendation_generations SET status = $2, published_at = now()
			WHERE id = $1 AND status = $3`,
			generationID, models.GenerationActive, models.GenerationStaging)
		if err != nil {
			return fmt.Errorf("failed to activate generation: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("generation %s is not staged: %w", generationID, ErrNotFound)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM recommendation_generations WHERE status = $1`,
			models.GenerationRetired); err != nil {
			return fmt.Errorf("failed to purge retired generations: %w", err)
		}
		return nil
	})
}

// SweepStaging deletes staging generations older than olderThan, left behind by runs that died
// before publishing or aborting. Rows go with them through the cascade.
func (r *RecommendationRepository) SweepStaging(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM recommendation_generations
		WHERE status = $1 AND created_at < now() - make_interval(secs => $2)`,
		models.GenerationStaging, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep staging generations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Abort discards a staging generation and everything written into it.
func (r *RecommendationRepository) Abort(ctx context.Context, generationID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recommendations WHERE generation_id = $1`, generationID); err != nil {
			return fmt.Errorf("failed to discard staged recommendations: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM recommendation_generations WHERE id = $1 AND status = $2`,
			generationID, models.GenerationStaging); err != nil {
			return fmt.Errorf("failed to discard generation: %w", err)
		}
		return nil
	})
}

// SaveLive replaces one user's rows in the active generation, creating one if none exists yet.
func (r *RecommendationRepository) SaveLive(ctx context.Context, userID int64, recs []models.Recommendation) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var generationID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM recommendation_generations WHERE status = $1
			ORDER BY published_at DESC LIMIT 1 FOR UPDATE`, models.GenerationActive).Scan(&generationID)
		if errors.Is(err, pgx.ErrNoRows) {
			generationID = uuid.New()
			_, err = tx.Exec(ctx, `
				INSERT INTO recommendation_generations (id, status, created_at, published_at)
				VALUES ($1, $2, now(), now())`, generationID, models.GenerationActive)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve active generation: %w", err)
		}

		return replaceUserRows(ctx, tx, generationID, userID, recs)
	})
}

func (r *RecommendationRepository) ActiveGeneration(ctx context.Context) (*models.Generation, error) {
	var g models.Generation
	err := r.db.QueryRow(ctx, `
		SELECT id, status, created_at, published_at
		FROM recommendation_generations WHERE status = $1
		ORDER BY published_at DESC LIMIT 1`, models.GenerationActive).
		Scan(&g.ID, &g.Status, &g.CreatedAt, &g.PublishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active generation: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query active generation: %w", err)
	}
	return &g, nil
}

const savedSelect = `
	SELECT r.rank, r.product_id, r.predicted_rating, r.generated_at,
		p.title, p.price, p.stars, p.reviews, c.category_name
	FROM recommendations r
	JOIN recommendation_generations g ON g.id = r.generation_id AND g.status = 'active'
	LEFT JOIN amazon_products p ON r.product_id = p.asin
	LEFT JOIN amazon_categories c ON p.category_id = c.id`

func scanSaved(row pgx.CollectableRow) (models.SavedRecommendation, error) {
	var s models.SavedRecommendation
	err := row.Scan(&s.Rank, &s.ProductID, &s.PredictedRating, &s.GeneratedAt,
		&s.ProductName, &s.Price, &s.AvgRating, &s.TotalReviews, &s.CategoryName)
	return s, err
}

func (r *RecommendationRepository) GetForUser(ctx context.Context, userID int64, limit int) ([]models.SavedRecommendation, error) {
	rows, err := r.db.Query(ctx, savedSelect+`
		WHERE r.user_id = $1
		ORDER BY r.rank
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query saved recommendations: %w", err)
	}

	saved, err := pgx.CollectRows(rows, scanSaved)
	if err != nil {
		return nil, fmt.Errorf("failed to scan saved recommendations: %w", err)
	}
	return saved, nil
}

func (r *RecommendationRepository) GetTopForUser(ctx context.Context, userID int64) (*models.SavedRecommendation, error) {
	rows, err := r.db.Query(ctx, savedSelect+`
		WHERE r.user_id = $1 AND r.rank = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query top recommendation: %w", err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSaved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("top recommendation for user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan top recommendation: %w", err)
	}
	return &s, nil
}

// GetForUserByCategory filters saved recommendations by a case-insensitive category name fragment.
func (r *RecommendationRepository) GetForUserByCategory(ctx context.Context, userID int64, categoryName string, limit int) ([]models.SavedRecommendation, error) {
	rows, err := r.db.Query(ctx, savedSelect+`
		WHERE r.user_id = $1 AND c.category_name ILIKE '%' || $2 || '%'
		ORDER BY r.rank
		LIMIT $3`, userID, categoryName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query category recommendations: %w", err)
	}

	saved, err := pgx.CollectRows(rows, scanSaved)
	if err != nil {
		return nil, fmt.Errorf("failed to scan category recommendations: %w", err)
	}
	return saved, nil
}

// TopRecommendedProducts ranks products by how many users they were recommended to.
func (r *RecommendationRepository) TopRecommendedProducts(ctx context.Context, limit int) ([]models.ProductRecommendationStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.product_id, p.title, p.price, p.stars, p.reviews, c.category_name,
			COUNT(DISTINCT r.user_id) AS recommended_to_users,
			ROUND(AVG(r.predicted_rating)::numeric, 3)::float8 AS avg_predicted_rating
		FROM recommendations r
		JOIN recommendation_generations g ON g.id = r.generation_id AND g.status = 'active'
		LEFT JOIN amazon_products p ON r.product_id = p.asin
		LEFT JOIN amazon_categories c ON p.category_id = c.id
		GROUP BY r.product_id, p.title, p.price, p.stars, p.reviews, c.category_name
		ORDER BY recommended_to_users DESC, avg_predicted_rating DESC, r.product_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top recommended products: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProductRecommendationStats, error) {
		var s models.ProductRecommendationStats
		err := row.Scan(&s.ProductID, &s.ProductName, &s.Price, &s.AvgRating, &s.TotalReviews,
			&s.CategoryName, &s.RecommendedTo, &s.AvgPredictedRating)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan top recommended products: %w", err)
	}
	return stats, nil
}

func (r *RecommendationRepository) UsersRecommendedProduct(ctx context.Context, productID string, limit int) ([]models.ProductRecipient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.user_id, r.rank, r.predicted_rating, r.generated_at
		FROM recommendations r
		JOIN recommendation_generations g ON g.id = r.generation_id AND g.status = 'active'
		WHERE r.product_id = $1
		ORDER BY r.predicted_rating DESC, r.user_id
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query product recipients: %w", err)
	}

	recipients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProductRecipient, error) {
		var p models.ProductRecipient
		err := row.Scan(&p.UserID, &p.Rank, &p.PredictedRating, &p.GeneratedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan product recipients: %w", err)
	}
	return recipients, nil
}
