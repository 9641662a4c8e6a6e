package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/ratingrec/pkg/models"
)

func TestSnapshotManager_Reload(t *testing.T) {
	source := &fakeRatingSource{ratings: sampleRatings()}
	sm := NewSnapshotManager(source, 0, testLogger())

	_, err := sm.Ready()
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Nil(t, sm.Current())

	var published []int64
	sm.OnPublish(func(s *ModelSnapshot) { published = append(published, s.Version) })

	snap, err := sm.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Same(t, snap, sm.Current())

	info := snap.Info()
	assert.True(t, info.Ready)
	assert.Equal(t, 4, info.Users)
	assert.Equal(t, 5, info.Products)
	assert.Equal(t, len(sampleRatings()), info.Ratings)

	users, _ := snap.Ratings.Dims()
	assert.Equal(t, users, snap.UserSimilarity.SymmetricDim())

	second, err := sm.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, []int64{1, 2}, published)
}

func TestSnapshotManager_FailedReloadKeepsPrevious(t *testing.T) {
	source := &fakeRatingSource{ratings: sampleRatings()}
	sm := NewSnapshotManager(source, 0, testLogger())

	first, err := sm.Reload(context.Background())
	require.NoError(t, err)

	source.set(nil, errors.New("connection refused"))
	_, err = sm.Reload(context.Background())
	require.ErrorIs(t, err, ErrComputationFailure)
	assert.Same(t, first, sm.Current())

	source.set([]models.Rating{}, nil)
	_, err = sm.Reload(context.Background())
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Same(t, first, sm.Current())
}

func TestSnapshotManager_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	source := &fakeRatingSource{err: errors.New("timeout")}
	sm := NewSnapshotManager(source, 0, testLogger())

	for i := 0; i < 3; i++ {
		_, err := sm.Reload(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", sm.BreakerState())

	_, err := sm.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, source.callCount())
}

func TestSnapshotManager_ReadersDuringReload(t *testing.T) {
	ctx := context.Background()
	// The alternate dataset adds user 5, a copy of user 2, so user 1 sees the same products.
	alternate := append(sampleRatings(),
		models.Rating{UserID: 5, ProductID: "A", Value: 5},
		models.Rating{UserID: 5, ProductID: "B", Value: 4},
		models.Rating{UserID: 5, ProductID: "C", Value: 5},
	)
	source := &fakeRatingSource{ratings: sampleRatings()}
	sm := NewSnapshotManager(source, 0, testLogger())
	_, err := sm.Reload(ctx)
	require.NoError(t, err)

	cf := NewCollaborativeRecommender(0)
	var wg sync.WaitGroup
	var reloadErrs, badReads atomic.Int32

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if (w+i)%2 == 0 {
					source.set(alternate, nil)
				} else {
					source.set(sampleRatings(), nil)
				}
				if _, err := sm.Reload(ctx); err != nil {
					reloadErrs.Add(1)
				}
			}
		}(w)
	}

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap, err := sm.Ready()
				if err != nil {
					badReads.Add(1)
					continue
				}
				users, _ := snap.Ratings.Dims()
				if users != snap.Info().Users || users != snap.UserSimilarity.SymmetricDim() {
					badReads.Add(1)
					continue
				}
				recs, err := cf.Recommend(snap, 1, 5)
				if err != nil || len(recs) != 2 || recs[0].ProductID != "C" {
					badReads.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, reloadErrs.Load())
	assert.Zero(t, badReads.Load())
	assert.Equal(t, int64(101), sm.Current().Version)
}
