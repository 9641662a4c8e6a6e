package database

import (
	"context"
	"fmt"
)

// Catalog tables (users, amazon_products, amazon_categories, product_ratings) are owned by the
// loader. Only the result tables below belong to the engine.
var resultTablesDDL = []string{
	`CREATE TABLE IF NOT EXISTS recommendation_generations (
		id           UUID PRIMARY KEY,
		status       VARCHAR(16) NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendation_generations_status
		ON recommendation_generations (status)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		generation_id    UUID NOT NULL REFERENCES recommendation_generations (id) ON DELETE CASCADE,
		user_id          BIGINT NOT NULL,
		product_id       VARCHAR(64) NOT NULL,
		predicted_rating DOUBLE PRECISION NOT NULL CHECK (predicted_rating >= 0),
		rank             INTEGER NOT NULL CHECK (rank >= 1),
		generated_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (generation_id, user_id, rank)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_product
		ON recommendations (generation_id, product_id)`,
}

// EnsureResultTables creates the engine-owned tables when missing.
func EnsureResultTables(ctx context.Context, db DBTX) error {
	for _, stmt := range resultTablesDDL {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create result tables: %w", err)
		}
	}
	return nil
}
