package handlers

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/ratingrec/internal/services"
	"github.com/temcen/ratingrec/pkg/models"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Recommend(ctx context.Context, userID int64, topN int) ([]models.Recommendation, error) {
	args := m.Called(ctx, userID, topN)
	recs, _ := args.Get(0).([]models.Recommendation)
	return recs, args.Error(1)
}

func (m *MockEngine) RecommendAndSave(ctx context.Context, userID int64, topN int) ([]models.Recommendation, error) {
	args := m.Called(ctx, userID, topN)
	recs, _ := args.Get(0).([]models.Recommendation)
	return recs, args.Error(1)
}

func (m *MockEngine) SimilarUsers(ctx context.Context, userID int64, topN int) ([]models.SimilarUser, error) {
	args := m.Called(ctx, userID, topN)
	users, _ := args.Get(0).([]models.SimilarUser)
	return users, args.Error(1)
}

func (m *MockEngine) SimilarProducts(ctx context.Context, productID string, topN int) ([]models.SimilarProduct, error) {
	args := m.Called(ctx, productID, topN)
	products, _ := args.Get(0).([]models.SimilarProduct)
	return products, args.Error(1)
}

func (m *MockEngine) Hybrid(ctx context.Context, userID int64, productID *string, topN int) ([]models.RankedItem, error) {
	args := m.Called(ctx, userID, productID, topN)
	items, _ := args.Get(0).([]models.RankedItem)
	return items, args.Error(1)
}

func (m *MockEngine) PairwiseSimilarity(ctx context.Context, ids []string) (*models.PairwiseSimilarity, error) {
	args := m.Called(ctx, ids)
	result, _ := args.Get(0).(*models.PairwiseSimilarity)
	return result, args.Error(1)
}

func (m *MockEngine) Reload(ctx context.Context) (*models.ModelInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*models.ModelInfo)
	return info, args.Error(1)
}

func (m *MockEngine) RunBatch(ctx context.Context, opts services.BatchOptions) (*models.BatchSummary, error) {
	args := m.Called(ctx, opts)
	summary, _ := args.Get(0).(*models.BatchSummary)
	return summary, args.Error(1)
}

func (m *MockEngine) ModelInfo() models.ModelInfo {
	return m.Called().Get(0).(models.ModelInfo)
}

func (m *MockEngine) StartReload() *services.JobProgress {
	return m.Called().Get(0).(*services.JobProgress)
}

func (m *MockEngine) StartBatch(opts services.BatchOptions) (*services.JobProgress, error) {
	args := m.Called(opts)
	job, _ := args.Get(0).(*services.JobProgress)
	return job, args.Error(1)
}

func (m *MockEngine) Job(ctx context.Context, jobID uuid.UUID) (*services.JobProgress, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*services.JobProgress)
	return job, args.Error(1)
}

func (m *MockEngine) ActiveJobs(limit int) []*services.JobProgress {
	jobs, _ := m.Called(limit).Get(0).([]*services.JobProgress)
	return jobs
}

func (m *MockEngine) HandleCommand(ctx context.Context, cmd models.EngineCommand) error {
	return m.Called(ctx, cmd).Error(0)
}

type MockSavedResults struct {
	mock.Mock
}

func (m *MockSavedResults) GetForUser(ctx context.Context, userID int64, limit int) ([]models.SavedRecommendation, error) {
	args := m.Called(ctx, userID, limit)
	saved, _ := args.Get(0).([]models.SavedRecommendation)
	return saved, args.Error(1)
}

func (m *MockSavedResults) GetTopForUser(ctx context.Context, userID int64) (*models.SavedRecommendation, error) {
	args := m.Called(ctx, userID)
	saved, _ := args.Get(0).(*models.SavedRecommendation)
	return saved, args.Error(1)
}

func (m *MockSavedResults) GetForUserByCategory(ctx context.Context, userID int64, categoryName string, limit int) ([]models.SavedRecommendation, error) {
	args := m.Called(ctx, userID, categoryName, limit)
	saved, _ := args.Get(0).([]models.SavedRecommendation)
	return saved, args.Error(1)
}

func (m *MockSavedResults) TopRecommendedProducts(ctx context.Context, limit int) ([]models.ProductRecommendationStats, error) {
	args := m.Called(ctx, limit)
	stats, _ := args.Get(0).([]models.ProductRecommendationStats)
	return stats, args.Error(1)
}

func (m *MockSavedResults) UsersRecommendedProduct(ctx context.Context, productID string, limit int) ([]models.ProductRecipient, error) {
	args := m.Called(ctx, productID, limit)
	recipients, _ := args.Get(0).([]models.ProductRecipient)
	return recipients, args.Error(1)
}

func (m *MockSavedResults) ActiveGeneration(ctx context.Context) (*models.Generation, error) {
	args := m.Called(ctx)
	generation, _ := args.Get(0).(*models.Generation)
	return generation, args.Error(1)
}

type stubRatings struct {
	ratings []models.UserRating
	err     error
}

func (s stubRatings) UserRatings(context.Context, int64) ([]models.UserRating, error) {
	return s.ratings, s.err
}

type stubStats struct {
	stats *models.Stats
	err   error
}

func (s stubStats) Stats(context.Context) (*models.Stats, error) { return s.stats, s.err }

var testLimits = Limits{DefaultTopN: 10, MaxTopN: 50}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func init() {
	gin.SetMode(gin.TestMode)
}
