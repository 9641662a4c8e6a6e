package models

import "time"

// Rating is a single explicit rating a user gave a product (1-5).
type Rating struct {
	UserID    int64   `json:"user_id" db:"user_id"`
	ProductID string  `json:"product_id" db:"product_id"`
	Value     float64 `json:"rating" db:"rating"`
}

type UserRating struct {
	ProductID    string     `json:"product_id"`
	Rating       float64    `json:"rating"`
	RatedAt      *time.Time `json:"rated_at,omitempty"`
	ProductName  *string    `json:"product_name,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	CategoryName *string    `json:"category_name,omitempty"`
}

type SimilarUser struct {
	UserID          int64   `json:"user_id"`
	SimilarityScore float64 `json:"similarity_score"`
	ProductsRated   int     `json:"products_rated"`
}
