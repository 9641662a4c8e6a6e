package models

// Product is a catalog item joined with its category.
type Product struct {
	ID           string   `json:"product_id" db:"asin"`
	Title        string   `json:"title" db:"title"`
	CategoryID   int64    `json:"category_id" db:"category_id"`
	CategoryName string   `json:"category_name,omitempty" db:"category_name"`
	Price        *float64 `json:"price,omitempty" db:"price"`
	Stars        *float64 `json:"stars,omitempty" db:"stars"`
	Reviews      *int64   `json:"reviews,omitempty" db:"reviews"`
	ImageURL     *string  `json:"img_url,omitempty" db:"img_url"`
}

type SimilarProduct struct {
	Product    Product `json:"product"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
}

// PairwiseSimilarity correlates Matrix indices with ProductIDs: Matrix[i][j] is the similarity of
// ProductIDs[i] and ProductIDs[j].
type PairwiseSimilarity struct {
	ProductIDs []string    `json:"products"`
	Matrix     [][]float64 `json:"similarity_matrix"`
	Missing    []string    `json:"missing,omitempty"`
}

type PairwiseSimilarityRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=2,max=20,dive,required,max=64"`
}
