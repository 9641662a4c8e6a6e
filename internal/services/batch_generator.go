package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/ratingrec/pkg/models"
)

const (
	DefaultBatchWorkers     = 4
	DefaultProgressInterval = 100
)

// UserRecommender is the per-user computation a batch runs.
type UserRecommender interface {
	Recommend(snap *ModelSnapshot, userID int64, topN int) ([]models.Recommendation, error)
}

type BatchOptions struct {
	// SampleSize <= 0 means every user in the snapshot.
	SampleSize int
	// Seed makes the sample reproducible. Nil picks a random seed.
	Seed *int64
	TopN int
	// OnProgress is called every progress interval and once at the end.
	OnProgress func(processed, failed, total int)
}

type BatchGenerator struct {
	store            ResultStore
	recommender      UserRecommender
	lock             BatchLock
	workers          int
	progressInterval int
	defaultTopN      int
	metrics          *EngineMetrics
	logger           *logrus.Logger
}

func NewBatchGenerator(store ResultStore, recommender UserRecommender, lock BatchLock, workers, progressInterval, defaultTopN int, metrics *EngineMetrics, logger *logrus.Logger) *BatchGenerator {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	return &BatchGenerator{
		store:            store,
		recommender:      recommender,
		lock:             lock,
		workers:          workers,
		progressInterval: progressInterval,
		defaultTopN:      defaultTopN,
		metrics:          metrics,
		logger:           logger,
	}
}

// SampleUsers picks n users without replacement. n <= 0 or n >= len(users) returns every user.
// The result is sorted so processing order does not depend on the shuffle.
func SampleUsers(users []int64, n int, seed uint64) []int64 {
	out := slices.Clone(users)
	if n > 0 && n < len(out) {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		out = out[:n]
	}
	slices.Sort(out)
	return out
}

// Run recomputes recommendations for the working set into a fresh generation and publishes it.
// A user whose computation fails or yields nothing is counted and skipped.
func (bg *BatchGenerator) Run(ctx context.Context, snap *ModelSnapshot, opts BatchOptions) (*models.BatchSummary, error) {
	release, err := bg.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return bg.RunLocked(ctx, snap, opts)
}

// Acquire takes the batch lock. It returns ErrBatchInProgress while another run holds it.
func (bg *BatchGenerator) Acquire(ctx context.Context) (release func(), err error) {
	return bg.lock.Acquire(ctx)
}

// RunLocked is Run for a caller that already holds the lock from Acquire.
func (bg *BatchGenerator) RunLocked(ctx context.Context, snap *ModelSnapshot, opts BatchOptions) (*models.BatchSummary, error) {
	topN := opts.TopN
	if topN <= 0 {
		topN = bg.defaultTopN
	}

	var seed uint64
	if opts.Seed != nil {
		seed = uint64(*opts.Seed)
	} else {
		seed = rand.Uint64()
	}
	users := SampleUsers(snap.UserIDs(), opts.SampleSize, seed)

	summary := &models.BatchSummary{
		Attempted: len(users),
		StartedAt: time.Now().UTC(),
	}

	generationID, err := bg.store.BeginGeneration(ctx)
	if err != nil {
		return nil, classify(err, "begin generation")
	}
	summary.GenerationID = generationID

	logger := bg.logger.WithFields(logrus.Fields{
		"generation_id":  generationID,
		"users":          len(users),
		"snapshot":       snap.Version,
		"workers":        bg.workers,
		"sample_request": opts.SampleSize,
	})
	logger.Info("Batch generation started")

	var succeeded, empty, failed, processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bg.workers)

	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := bg.processUser(gctx, snap, generationID, userID, topN)
			switch outcome {
			case outcomeSucceeded:
				succeeded.Add(1)
			case outcomeEmpty:
				empty.Add(1)
			default:
				failed.Add(1)
			}
			bg.metrics.ObserveBatchUser(outcome)

			if n := processed.Add(1); n%int64(bg.progressInterval) == 0 {
				logger.WithFields(logrus.Fields{
					"processed": n,
					"succeeded": succeeded.Load(),
				}).Info("Batch generation progress")
				if opts.OnProgress != nil {
					opts.OnProgress(int(n), int(failed.Load()), len(users))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		bg.abort(generationID, logger)
		return nil, fmt.Errorf("batch generation cancelled: %w", err)
	}

	if err := bg.store.Publish(ctx, generationID); err != nil {
		bg.abort(generationID, logger)
		return nil, classify(err, "publish generation")
	}

	summary.Succeeded = int(succeeded.Load())
	summary.Empty = int(empty.Load())
	summary.Failed = int(failed.Load())
	summary.FinishedAt = time.Now().UTC()

	if opts.OnProgress != nil {
		opts.OnProgress(int(processed.Load()), summary.Failed, len(users))
	}
	bg.metrics.ObserveBatch(summary)

	logger.WithFields(logrus.Fields{
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"empty":     summary.Empty,
		"failed":    summary.Failed,
		"duration":  summary.FinishedAt.Sub(summary.StartedAt),
	}).Info("Batch generation completed")

	return summary, nil
}

const (
	outcomeSucceeded = "succeeded"
	outcomeEmpty     = "empty"
	outcomeFailed    = "failed"
)

func (bg *BatchGenerator) processUser(ctx context.Context, snap *ModelSnapshot, generationID uuid.UUID, userID int64, topN int) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			bg.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"panic":   r,
			}).Error("Recommendation computation panicked")
			outcome = outcomeFailed
		}
	}()

	recs, err := bg.recommender.Recommend(snap, userID, topN)
	if err != nil {
		bg.logger.WithError(err).WithField("user_id", userID).Warn("Skipping user after failed computation")
		return outcomeFailed
	}
	if len(recs) == 0 {
		return outcomeEmpty
	}

	if err := bg.store.SaveUserRecommendations(ctx, generationID, userID, recs); err != nil {
		bg.logger.WithError(err).WithField("user_id", userID).Warn("Failed to save user recommendations")
		return outcomeFailed
	}
	return outcomeSucceeded
}

func (bg *BatchGenerator) abort(generationID uuid.UUID, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bg.store.Abort(ctx, generationID); err != nil {
		logger.WithError(err).Error("Failed to discard staged generation")
	}
}
