package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/ratingrec/internal/ml"
	"github.com/temcen/ratingrec/pkg/models"
)

// ModelSnapshot pairs a user-item matrix with the user similarity matrix derived from it.
// It is never mutated after NewModelSnapshot returns.
type ModelSnapshot struct {
	Version        int64
	BuiltAt        time.Time
	BuildDuration  time.Duration
	Ratings        *ml.RatingMatrix
	UserSimilarity *mat.SymDense
}

// NewModelSnapshot derives the similarity matrix from ratings and checks that the pair lines up.
func NewModelSnapshot(version int64, ratings *ml.RatingMatrix) (*ModelSnapshot, error) {
	start := time.Now()

	sim, err := ml.PairwiseCosine(ratings.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to compute user similarity: %w", err)
	}

	users, _ := ratings.Dims()
	if sim.SymmetricDim() != users {
		return nil, fmt.Errorf("%w: similarity matrix is %d wide for %d users",
			ErrComputationFailure, sim.SymmetricDim(), users)
	}

	return &ModelSnapshot{
		Version:        version,
		BuiltAt:        time.Now(),
		BuildDuration:  time.Since(start),
		Ratings:        ratings,
		UserSimilarity: sim,
	}, nil
}

func (s *ModelSnapshot) Info() models.ModelInfo {
	users, products := s.Ratings.Dims()
	return models.ModelInfo{
		Ready:       true,
		Version:     s.Version,
		Users:       users,
		Products:    products,
		Ratings:     s.Ratings.RatingCount(),
		BuiltAt:     s.BuiltAt,
		BuildMillis: s.BuildDuration.Milliseconds(),
	}
}

// UserIDs lists every user in the snapshot in row order.
func (s *ModelSnapshot) UserIDs() []int64 { return s.Ratings.Users.Keys() }

// SnapshotManager publishes snapshots through an atomic pointer. Readers never lock; reloads are
// serialized and only swap the pointer once the new snapshot is complete.
type SnapshotManager struct {
	source      RatingSource
	ratingLimit int
	breaker     *gobreaker.CircuitBreaker[[]models.Rating]
	logger      *logrus.Logger

	current atomic.Pointer[ModelSnapshot]
	version atomic.Int64
	mu      sync.Mutex

	listeners []func(*ModelSnapshot)
}

func NewSnapshotManager(source RatingSource, ratingLimit int, logger *logrus.Logger) *SnapshotManager {
	sm := &SnapshotManager{
		source:      source,
		ratingLimit: ratingLimit,
		logger:      logger,
	}

	sm.breaker = gobreaker.NewCircuitBreaker[[]models.Rating](gobreaker.Settings{
		Name:        "rating-source",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return sm
}

// OnPublish registers a callback run after every successful swap. Callbacks run synchronously
// on the reloading goroutine and must not block for long.
func (sm *SnapshotManager) OnPublish(fn func(*ModelSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// Current returns the published snapshot, or nil before the first successful load.
func (sm *SnapshotManager) Current() *ModelSnapshot {
	return sm.current.Load()
}

// Ready returns the published snapshot or ErrInsufficientData when there is none yet.
func (sm *SnapshotManager) Ready() (*ModelSnapshot, error) {
	snap := sm.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrInsufficientData)
	}
	return snap, nil
}

// Reload builds a fresh snapshot from the rating source and swaps it in. On any failure the
// previously published snapshot keeps serving.
func (sm *SnapshotManager) Reload(ctx context.Context) (*ModelSnapshot, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	start := time.Now()

	ratings, err := sm.breaker.Execute(func() ([]models.Rating, error) {
		return sm.source.LoadRatings(ctx, sm.ratingLimit)
	})
	if err != nil {
		return nil, classify(err, "load ratings")
	}

	matrix, err := ml.BuildRatingMatrix(ratings)
	if err != nil {
		return nil, classify(err, "build rating matrix")
	}

	snap, err := NewModelSnapshot(sm.version.Load()+1, matrix)
	if err != nil {
		return nil, classify(err, "build snapshot")
	}

	sm.version.Store(snap.Version)
	sm.current.Store(snap)

	users, products := matrix.Dims()
	sm.logger.WithFields(logrus.Fields{
		"version":  snap.Version,
		"users":    users,
		"products": products,
		"ratings":  len(ratings),
		"duration": time.Since(start),
	}).Info("Model snapshot published")

	for _, fn := range sm.listeners {
		fn(snap)
	}

	return snap, nil
}

func (sm *SnapshotManager) BreakerState() string {
	return sm.breaker.State().String()
}
