package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/ratingrec/pkg/models"
)

// RatingSource loads the raw ratings a snapshot is built from. limit <= 0 means all of them.
type RatingSource interface {
	LoadRatings(ctx context.Context, limit int) ([]models.Rating, error)
}

// ProductCatalog resolves products for content-based similarity.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ListByCategory(ctx context.Context, categoryID int64, includeID string, limit int) ([]models.Product, error)
	GetProducts(ctx context.Context, ids []string) ([]models.Product, error)
}

// ResultStore persists batch output. Writes go to a staging generation that becomes visible to
// readers only once published.
type ResultStore interface {
	BeginGeneration(ctx context.Context) (uuid.UUID, error)
	SaveUserRecommendations(ctx context.Context, generationID uuid.UUID, userID int64, recs []models.Recommendation) error
	Publish(ctx context.Context, generationID uuid.UUID) error
	Abort(ctx context.Context, generationID uuid.UUID) error
}

// LiveResultStore replaces a single user's rows in the published generation.
type LiveResultStore interface {
	SaveLive(ctx context.Context, userID int64, recs []models.Recommendation) error
}

// EngineInterface is what the transport layers (HTTP, Kafka) drive.
type EngineInterface interface {
	Recommend(ctx context.Context, userID int64, topN int) ([]models.Recommendation, error)
	RecommendAndSave(ctx context.Context, userID int64, topN int) ([]models.Recommendation, error)
	SimilarUsers(ctx context.Context, userID int64, topN int) ([]models.SimilarUser, error)
	SimilarProducts(ctx context.Context, productID string, topN int) ([]models.SimilarProduct, error)
	Hybrid(ctx context.Context, userID int64, productID *string, topN int) ([]models.RankedItem, error)
	PairwiseSimilarity(ctx context.Context, ids []string) (*models.PairwiseSimilarity, error)
	Reload(ctx context.Context) (*models.ModelInfo, error)
	RunBatch(ctx context.Context, opts BatchOptions) (*models.BatchSummary, error)
	ModelInfo() models.ModelInfo

	StartReload() *JobProgress
	StartBatch(opts BatchOptions) (*JobProgress, error)
	Job(ctx context.Context, jobID uuid.UUID) (*JobProgress, error)
	ActiveJobs(limit int) []*JobProgress
	HandleCommand(ctx context.Context, cmd models.EngineCommand) error
}
