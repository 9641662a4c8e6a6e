package services

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/ml"
	"github.com/temcen/ratingrec/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// sampleRatings: user 1 shares A and B with users 2 and 3. Only user 2 rated C, only user 3 rated D.
func sampleRatings() []models.Rating {
	return []models.Rating{
		{UserID: 1, ProductID: "A", Value: 5},
		{UserID: 1, ProductID: "B", Value: 4},
		{UserID: 2, ProductID: "A", Value: 5},
		{UserID: 2, ProductID: "B", Value: 4},
		{UserID: 2, ProductID: "C", Value: 5},
		{UserID: 3, ProductID: "A", Value: 4},
		{UserID: 3, ProductID: "B", Value: 5},
		{UserID: 3, ProductID: "D", Value: 3},
		{UserID: 4, ProductID: "E", Value: 2},
	}
}

func buildSnapshot(t *testing.T, ratings []models.Rating) *ModelSnapshot {
	t.Helper()
	matrix, err := ml.BuildRatingMatrix(ratings)
	require.NoError(t, err)
	snap, err := NewModelSnapshot(1, matrix)
	require.NoError(t, err)
	return snap
}

type fakeRatingSource struct {
	mu      sync.Mutex
	ratings []models.Rating
	err     error
	calls   int
}

func (f *fakeRatingSource) LoadRatings(context.Context, int) ([]models.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.ratings), nil
}

func (f *fakeRatingSource) set(ratings []models.Rating, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings, f.err = ratings, err
}

func (f *fakeRatingSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCatalog struct {
	products []models.Product
	err      error
}

func (f *fakeCatalog) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.products {
		if p.ID == productID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product %s: %w", productID, database.ErrNotFound)
}

func (f *fakeCatalog) ListByCategory(_ context.Context, categoryID int64, includeID string, limit int) ([]models.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Product
	for _, p := range f.products {
		if p.ID == includeID && p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	for _, p := range f.products {
		if p.CategoryID == categoryID && p.ID != includeID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetProducts(_ context.Context, ids []string) ([]models.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Product
	for _, p := range f.products {
		if slices.Contains(ids, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func sampleCatalog() *fakeCatalog {
	price := 19.99
	return &fakeCatalog{products: []models.Product{
		{ID: "p1", Title: "Wireless Optical Mouse", CategoryID: 1, CategoryName: "Computer Accessories", Price: &price},
		{ID: "p2", Title: "Wireless Gaming Mouse", CategoryID: 1, CategoryName: "Computer Accessories"},
		{ID: "p3", Title: "Mechanical Keyboard Switches", CategoryID: 1, CategoryName: "Computer Accessories"},
		{ID: "p4", Title: "Stainless Steel Kettle", CategoryID: 2, CategoryName: "Kitchen"},
	}}
}

// fakeResultStore keeps generations in memory. Only one can be active.
type fakeResultStore struct {
	mu         sync.Mutex
	staged     map[uuid.UUID]map[int64][]models.Recommendation
	active     map[int64][]models.Recommendation
	aborted    []uuid.UUID
	failUsers  map[int64]bool
	publishErr error
	live       map[int64][]models.Recommendation
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{
		staged: make(map[uuid.UUID]map[int64][]models.Recommendation),
		live:   make(map[int64][]models.Recommendation),
	}
}

func (f *fakeResultStore) BeginGeneration(context.Context) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.staged[id] = make(map[int64][]models.Recommendation)
	return id, nil
}

func (f *fakeResultStore) SaveUserRecommendations(_ context.Context, generationID uuid.UUID, userID int64, recs []models.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers[userID] {
		return fmt.Errorf("write rejected for user %d", userID)
	}
	f.staged[generationID][userID] = recs
	return nil
}

func (f *fakeResultStore) Publish(_ context.Context, generationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.active = f.staged[generationID]
	delete(f.staged, generationID)
	return nil
}

func (f *fakeResultStore) Abort(_ context.Context, generationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.staged, generationID)
	f.aborted = append(f.aborted, generationID)
	return nil
}

func (f *fakeResultStore) SaveLive(_ context.Context, userID int64, recs []models.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[userID] = recs
	return nil
}

func (f *fakeResultStore) activeUsers() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]int64, 0, len(f.active))
	for id := range f.active {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.EngineEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, event models.EngineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}
