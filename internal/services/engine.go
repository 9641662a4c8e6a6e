package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/pkg/models"
)

// EventPublisher announces reload and batch outcomes to other systems.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.EngineEvent) error
}

type EngineOptions struct {
	MaxFeatures  int
	DefaultTopN  int
	MaxTopN      int
	JobTimeout   time.Duration
	DefaultBatch BatchOptions
}

// Engine is the single entry point the transport layers use. Every read runs against whichever
// snapshot is published when the call starts.
type Engine struct {
	snapshots     *SnapshotManager
	collaborative *CollaborativeRecommender
	content       *ContentRecommender
	batch         *BatchGenerator
	catalog       ProductCatalog
	live          LiveResultStore
	jobs          *JobManager
	events        EventPublisher
	metrics       *EngineMetrics
	opts          EngineOptions
	logger        *logrus.Logger

	resultsChanged []func(context.Context)
}

func NewEngine(
	snapshots *SnapshotManager,
	collaborative *CollaborativeRecommender,
	content *ContentRecommender,
	batch *BatchGenerator,
	catalog ProductCatalog,
	live LiveResultStore,
	jobs *JobManager,
	events EventPublisher,
	metrics *EngineMetrics,
	opts EngineOptions,
	logger *logrus.Logger,
) *Engine {
	if opts.DefaultTopN <= 0 {
		opts.DefaultTopN = 10
	}
	if opts.MaxTopN <= 0 {
		opts.MaxTopN = 50
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Hour
	}

	e := &Engine{
		snapshots:     snapshots,
		collaborative: collaborative,
		content:       content,
		batch:         batch,
		catalog:       catalog,
		live:          live,
		jobs:          jobs,
		events:        events,
		metrics:       metrics,
		opts:          opts,
		logger:        logger,
	}
	snapshots.OnPublish(metrics.ObserveSnapshot)
	return e
}

// OnResultsChanged registers a callback run after saved recommendations change, either through a
// published batch or a live save. Register before serving.
func (e *Engine) OnResultsChanged(fn func(context.Context)) {
	e.resultsChanged = append(e.resultsChanged, fn)
}

func (e *Engine) notifyResultsChanged(ctx context.Context) {
	for _, fn := range e.resultsChanged {
		fn(ctx)
	}
}

func (e *Engine) checkTopN(topN int) error {
	if topN < 1 || topN > e.opts.MaxTopN {
		return fmt.Errorf("%w: top_n must be between 1 and %d", ErrInvalidArgument, e.opts.MaxTopN)
	}
	return nil
}

func (e *Engine) Recommend(ctx context.Context, userID int64, topN int) (recs []models.Recommendation, err error) {
	defer func(start time.Time) { e.metrics.ObserveRequest("recommend", start, err) }(time.Now())

	if err = e.checkTopN(topN); err != nil {
		return nil, err
	}
	snap, err := e.snapshots.Ready()
	if err != nil {
		return nil, err
	}
	return e.collaborative.Recommend(snap, userID, topN)
}

// RecommendAndSave computes live recommendations and replaces the user's published rows.
func (e *Engine) RecommendAndSave(ctx context.Context, userID int64, topN int) ([]models.Recommendation, error) {
	recs, err := e.Recommend(ctx, userID, topN)
	if err != nil || len(recs) == 0 {
		return recs, err
	}
	if err := e.live.SaveLive(ctx, userID, recs); err != nil {
		return nil, classify(err, "save live recommendations")
	}
	e.notifyResultsChanged(ctx)
	return recs, nil
}

func (e *Engine) SimilarUsers(ctx context.Context, userID int64, topN int) (users []models.SimilarUser, err error) {
	defer func(start time.Time) { e.metrics.ObserveRequest("similar_users", start, err) }(time.Now())

	if err = e.checkTopN(topN); err != nil {
		return nil, err
	}
	snap, err := e.snapshots.Ready()
	if err != nil {
		return nil, err
	}
	return e.collaborative.SimilarUsers(snap, userID, topN)
}

func (e *Engine) SimilarProducts(ctx context.Context, productID string, topN int) (products []models.SimilarProduct, err error) {
	defer func(start time.Time) { e.metrics.ObserveRequest("similar_products", start, err) }(time.Now())

	if err = e.checkTopN(topN); err != nil {
		return nil, err
	}
	return e.content.SimilarProducts(ctx, productID, topN)
}

// Hybrid puts collaborative results first and lets content results for productID fill the rest.
// Errors from either side are returned rather than silently dropped.
func (e *Engine) Hybrid(ctx context.Context, userID int64, productID *string, topN int) (items []models.RankedItem, err error) {
	defer func(start time.Time) { e.metrics.ObserveRequest("hybrid", start, err) }(time.Now())

	if err = e.checkTopN(topN); err != nil {
		return nil, err
	}
	snap, err := e.snapshots.Ready()
	if err != nil {
		return nil, err
	}

	recs, err := e.collaborative.Recommend(snap, userID, topN)
	if err != nil {
		return nil, err
	}

	var similar []models.RankedItem
	if productID != nil {
		products, err := e.content.SimilarProducts(ctx, *productID, topN)
		if err != nil {
			return nil, err
		}
		similar = contentItems(products)
	}

	return MergeHybrid(collaborativeItems(recs), similar, topN), nil
}

func (e *Engine) PairwiseSimilarity(ctx context.Context, ids []string) (result *models.PairwiseSimilarity, err error) {
	defer func(start time.Time) { e.metrics.ObserveRequest("pairwise_similarity", start, err) }(time.Now())
	return PairwiseSimilarity(ctx, e.catalog, e.opts.MaxFeatures, ids)
}

func (e *Engine) Reload(ctx context.Context) (*models.ModelInfo, error) {
	snap, err := e.snapshots.Reload(ctx)
	e.metrics.ObserveReload(err)
	if err != nil {
		e.logger.WithError(err).Error("Model reload failed, previous snapshot keeps serving")
		return nil, err
	}
	info := snap.Info()
	return &info, nil
}

func (e *Engine) RunBatch(ctx context.Context, opts BatchOptions) (*models.BatchSummary, error) {
	snap, err := e.snapshots.Ready()
	if err != nil {
		return nil, err
	}
	summary, err := e.batch.Run(ctx, snap, opts)
	if err != nil {
		return nil, err
	}
	e.notifyResultsChanged(ctx)
	return summary, nil
}

func (e *Engine) ModelInfo() models.ModelInfo {
	if snap := e.snapshots.Current(); snap != nil {
		return snap.Info()
	}
	return models.ModelInfo{}
}

// StartReload runs a reload in the background and returns the job tracking it.
func (e *Engine) StartReload() *JobProgress {
	job := e.jobs.CreateJob(context.Background(), JobTypeReload, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.JobTimeout)
		defer cancel()

		_ = e.jobs.UpdateJobProgress(ctx, job.JobID, 0, 0, 0, JobStatusProcessing)

		info, err := e.Reload(ctx)
		event := models.EngineEvent{JobID: &job.JobID, Timestamp: time.Now().UTC()}
		if err != nil {
			_ = e.jobs.FailJob(ctx, job.JobID, err.Error())
			event.Type, event.Error = models.EventReloadFailed, err.Error()
		} else {
			_ = e.jobs.CompleteJob(ctx, job.JobID, info)
			event.Type, event.Model = models.EventModelReloaded, info
		}
		e.publish(ctx, event)
	}()

	return job
}

// StartBatch runs a batch generation in the background and returns the job tracking it. It fails
// fast with ErrInsufficientData before any model is loaded and with ErrBatchInProgress while
// another run holds the batch lock.
func (e *Engine) StartBatch(opts BatchOptions) (*JobProgress, error) {
	snap, err := e.snapshots.Ready()
	if err != nil {
		return nil, err
	}

	lockCtx, lockCancel := context.WithTimeout(context.Background(), 5*time.Second)
	release, err := e.batch.Acquire(lockCtx)
	lockCancel()
	if err != nil {
		return nil, err
	}

	job := e.jobs.CreateJob(context.Background(), JobTypeGenerate, 0)
	jobID := job.JobID

	go func() {
		defer release()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.JobTimeout)
		defer cancel()

		_ = e.jobs.UpdateJobProgress(ctx, jobID, 0, 0, 0, JobStatusProcessing)
		opts.OnProgress = func(processed, failed, total int) {
			_ = e.jobs.UpdateJobProgress(ctx, jobID, processed, failed, total, JobStatusProcessing)
		}

		summary, err := e.batch.RunLocked(ctx, snap, opts)
		if err == nil {
			e.notifyResultsChanged(ctx)
		}
		event := models.EngineEvent{JobID: &jobID, Timestamp: time.Now().UTC()}
		if err != nil {
			e.logger.WithError(err).WithField("job_id", jobID).Error("Batch generation failed")
			_ = e.jobs.FailJob(ctx, jobID, err.Error())
			event.Type, event.Error = models.EventBatchFailed, err.Error()
		} else {
			_ = e.jobs.CompleteJob(ctx, jobID, summary)
			event.Type, event.Summary = models.EventBatchCompleted, summary
		}
		e.publish(ctx, event)
	}()

	return job, nil
}

func (e *Engine) Job(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	return e.jobs.GetJob(ctx, jobID)
}

// ActiveJobs lists queued and running jobs started by this instance.
func (e *Engine) ActiveJobs(limit int) []*JobProgress {
	return e.jobs.ListActiveJobs(limit)
}

// HandleCommand executes a command received from the message bus. Runs synchronously; the
// consumer retries on error.
func (e *Engine) HandleCommand(ctx context.Context, cmd models.EngineCommand) error {
	switch cmd.Type {
	case models.CommandReload:
		info, err := e.Reload(ctx)
		event := models.EngineEvent{Type: models.EventModelReloaded, Model: info, Timestamp: time.Now().UTC()}
		if err != nil {
			event.Type, event.Error = models.EventReloadFailed, err.Error()
		}
		e.publish(ctx, event)
		return err

	case models.CommandGenerate:
		opts := e.opts.DefaultBatch
		if cmd.SampleUsers != nil {
			opts.SampleSize = *cmd.SampleUsers
		}
		if cmd.Seed != nil {
			opts.Seed = cmd.Seed
		}
		if cmd.TopN != nil {
			opts.TopN = *cmd.TopN
		}

		summary, err := e.RunBatch(ctx, opts)
		event := models.EngineEvent{Type: models.EventBatchCompleted, Summary: summary, Timestamp: time.Now().UTC()}
		if err != nil {
			event.Type, event.Error = models.EventBatchFailed, err.Error()
		}
		e.publish(ctx, event)
		return err

	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, cmd.Type)
	}
}

func (e *Engine) publish(ctx context.Context, event models.EngineEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishEvent(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event", event.Type).Warn("Failed to publish engine event")
	}
}
