package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/ratingrec/pkg/models"
)

// stubRecommender fails for the users in fail and returns one row for everyone else.
type stubRecommender struct {
	fail  map[int64]bool
	empty map[int64]bool

	mu   sync.Mutex
	seen []int64
}

func (s *stubRecommender) Recommend(_ *ModelSnapshot, userID int64, topN int) ([]models.Recommendation, error) {
	s.mu.Lock()
	s.seen = append(s.seen, userID)
	s.mu.Unlock()

	switch {
	case s.fail[userID]:
		return nil, errors.New("numerical failure")
	case s.empty[userID]:
		return []models.Recommendation{}, nil
	}
	return []models.Recommendation{{UserID: userID, ProductID: "A", PredictedRating: 4, Rank: 1}}, nil
}

func newTestBatch(store *fakeResultStore, rec UserRecommender, lock BatchLock) *BatchGenerator {
	return NewBatchGenerator(store, rec, lock, 2, 1, 10, NewEngineMetrics(prometheus.NewRegistry()), testLogger())
}

func TestBatchGenerator_Run(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	store := newFakeResultStore()
	rec := &stubRecommender{fail: map[int64]bool{2: true}, empty: map[int64]bool{4: true}}
	bg := newTestBatch(store, rec, NewDistributedBatchLock(nil, 0, testLogger()))

	var progressCalls int
	var mu sync.Mutex
	summary, err := bg.Run(context.Background(), snap, BatchOptions{
		OnProgress: func(processed, failed, total int) {
			mu.Lock()
			progressCalls++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Empty)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	assert.Equal(t, []int64{1, 3}, store.activeUsers())
	assert.Greater(t, progressCalls, 0)
}

func TestBatchGenerator_SampleIsReproducible(t *testing.T) {
	users := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	a := SampleUsers(users, 4, 42)
	b := SampleUsers(users, 4, 42)
	assert.Equal(t, a, b)
	assert.Len(t, a, 4)
	assert.IsIncreasing(t, a)

	assert.Equal(t, users, SampleUsers(users, 0, 1))
	assert.Equal(t, users, SampleUsers(users, 50, 1))
}

func TestBatchGenerator_SampleSizeAndSeed(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	seed := int64(7)

	run := func() []int64 {
		store := newFakeResultStore()
		bg := newTestBatch(store, &stubRecommender{}, NewDistributedBatchLock(nil, 0, testLogger()))
		summary, err := bg.Run(context.Background(), snap, BatchOptions{SampleSize: 2, Seed: &seed})
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Attempted)
		return store.activeUsers()
	}

	assert.Equal(t, run(), run())
}

func TestBatchGenerator_ReplacesPreviousOutput(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	store := newFakeResultStore()
	bg := newTestBatch(store, &stubRecommender{}, NewDistributedBatchLock(nil, 0, testLogger()))
	users := snap.UserIDs()

	// Find two seeds whose two-user samples do not overlap.
	var first, second int64
	var firstSample, secondSample []int64
	for s := int64(1); s < 1000 && secondSample == nil; s++ {
		sample := SampleUsers(users, 2, uint64(s))
		switch {
		case firstSample == nil:
			first, firstSample = s, sample
		case !slices.ContainsFunc(sample, func(u int64) bool { return slices.Contains(firstSample, u) }):
			second, secondSample = s, sample
		}
	}
	require.NotNil(t, secondSample)

	_, err := bg.Run(context.Background(), snap, BatchOptions{SampleSize: 2, Seed: &first})
	require.NoError(t, err)
	assert.Equal(t, firstSample, store.activeUsers())

	_, err = bg.Run(context.Background(), snap, BatchOptions{SampleSize: 2, Seed: &second})
	require.NoError(t, err)
	assert.Equal(t, secondSample, store.activeUsers())
}

func TestBatchGenerator_LockHeld(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	lock := NewDistributedBatchLock(nil, 0, testLogger())

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	bg := newTestBatch(newFakeResultStore(), &stubRecommender{}, lock)
	_, err = bg.Run(context.Background(), snap, BatchOptions{})
	assert.ErrorIs(t, err, ErrBatchInProgress)

	release()
	_, err = bg.Run(context.Background(), snap, BatchOptions{})
	assert.NoError(t, err)
}

func TestBatchGenerator_PublishFailureAborts(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	store := newFakeResultStore()
	store.publishErr = errors.New("serialization failure")
	bg := newTestBatch(store, &stubRecommender{}, NewDistributedBatchLock(nil, 0, testLogger()))

	_, err := bg.Run(context.Background(), snap, BatchOptions{})
	require.ErrorIs(t, err, ErrComputationFailure)
	assert.Len(t, store.aborted, 1)
	assert.Empty(t, store.activeUsers())
}

func TestBatchGenerator_CancelledRunIsDiscarded(t *testing.T) {
	snap := buildSnapshot(t, sampleRatings())
	store := newFakeResultStore()
	bg := newTestBatch(store, &stubRecommender{}, NewDistributedBatchLock(nil, 0, testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bg.Run(ctx, snap, BatchOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, store.aborted, 1)
}
