package models

import (
	"time"

	"github.com/google/uuid"
)

// Recommendation is one ranked row produced for a user.
type Recommendation struct {
	UserID          int64     `json:"user_id" db:"user_id"`
	ProductID       string    `json:"product_id" db:"product_id"`
	PredictedRating float64   `json:"predicted_rating" db:"predicted_rating"`
	Rank            int       `json:"rank" db:"rank"`
	GeneratedAt     time.Time `json:"generated_at" db:"generated_at"`
}

// RankedItem is the common shape the hybrid merger works on.
type RankedItem struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
	Source    string  `json:"source"`
	Rank      int     `json:"rank"`
}

const (
	SourceCollaborative = "collaborative"
	SourceContent       = "content"
)

// SavedRecommendation is a persisted recommendation joined with product details.
type SavedRecommendation struct {
	Rank            int       `json:"rank"`
	ProductID       string    `json:"product_id"`
	PredictedRating float64   `json:"predicted_rating"`
	GeneratedAt     time.Time `json:"generated_at"`
	ProductName     *string   `json:"product_name,omitempty"`
	Price           *float64  `json:"price,omitempty"`
	AvgRating       *float64  `json:"avg_rating,omitempty"`
	TotalReviews    *int64    `json:"total_reviews,omitempty"`
	CategoryName    *string   `json:"category_name,omitempty"`
}

type RecommendationResponse struct {
	UserID          int64            `json:"user_id"`
	Source          string           `json:"source"`
	TotalResults    int              `json:"total_results"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type SavedRecommendationResponse struct {
	UserID          int64                 `json:"user_id"`
	CategoryFilter  string                `json:"category_filter,omitempty"`
	TotalResults    int                   `json:"total_results"`
	Recommendations []SavedRecommendation `json:"recommendations"`
}

type HybridResponse struct {
	UserID          int64        `json:"user_id"`
	SeedProductID   *string      `json:"seed_product_id,omitempty"`
	TotalResults    int          `json:"total_results"`
	Recommendations []RankedItem `json:"recommendations"`
}

type ProductRecommendationStats struct {
	ProductID          string   `json:"product_id"`
	ProductName        *string  `json:"product_name,omitempty"`
	Price              *float64 `json:"price,omitempty"`
	AvgRating          *float64 `json:"avg_rating,omitempty"`
	TotalReviews       *int64   `json:"total_reviews,omitempty"`
	CategoryName       *string  `json:"category_name,omitempty"`
	RecommendedTo      int64    `json:"recommended_to_users"`
	AvgPredictedRating float64  `json:"avg_predicted_rating"`
}

type ProductRecipient struct {
	UserID          int64     `json:"user_id"`
	Rank            int       `json:"rank"`
	PredictedRating float64   `json:"predicted_rating"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Generation is one batch-produced result set. Only the active generation is visible to readers.
type Generation struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

const (
	GenerationStaging = "staging"
	GenerationActive  = "active"
	GenerationRetired = "retired"
)
