package services

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/config"
	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/messaging"
	"github.com/temcen/ratingrec/internal/validation"
)

type Services struct {
	Engine     *Engine
	Snapshots  *SnapshotManager
	Auth       *AuthService
	Health     *HealthService
	RateLimit  *RateLimitService
	MessageBus *messaging.MessageBus
	JobManager *JobManager
	Graph      *SimilarityGraph
	Metrics    *EngineMetrics

	Ratings *database.RatingRepository
	Results *database.RecommendationRepository
	Stats   *database.StatsRepository
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	ratings := database.NewRatingRepository(db.PG)
	products := database.NewProductRepository(db.PG)
	results := database.NewRecommendationRepository(db.PG)
	stats := database.NewStatsRepository(db.PG)

	engineCfg := cfg.Engine
	caching := cfg.Recommendation.Caching

	metrics := NewEngineMetrics(reg)
	snapshots := NewSnapshotManager(ratings, engineCfg.RatingLimit, logger)
	collaborative := NewCollaborativeRecommender(engineCfg.Neighbors)
	content := NewContentRecommender(products, db.Redis.Warm, caching.SimilarProductsTTL,
		engineCfg.ContentCandidates, engineCfg.MaxFeatures, logger)
	lock := NewDistributedBatchLock(db.Redis.Hot, caching.BatchLockTTL, logger)
	batch := NewBatchGenerator(results, collaborative, lock, engineCfg.BatchWorkers,
		engineCfg.ProgressInterval, engineCfg.DefaultTopN, metrics, logger)
	jobs := NewJobManager(db.Redis.Hot, caching.JobStatusTTL, logger)

	svc := &Services{
		Snapshots:  snapshots,
		Auth:       NewAuthService(cfg, logger),
		Health:     NewHealthService(db, snapshots, reg, logger),
		RateLimit:  NewRateLimitService(cfg.Security.RateLimit, logger, db.Redis.Hot),
		JobManager: jobs,
		Metrics:    metrics,
		Ratings:    ratings,
		Results:    results,
		Stats:      stats,
	}

	var events EventPublisher
	if cfg.Kafka.Enabled {
		validator, err := validation.NewEmbeddedValidator()
		if err != nil {
			return nil, fmt.Errorf("failed to load message schemas: %w", err)
		}
		bus, err := messaging.NewMessageBus(cfg, validator, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		svc.MessageBus = bus
		events = bus
	}

	if cfg.Graph.Enabled && db.Neo4j != nil {
		svc.Graph = NewSimilarityGraph(db.Neo4j, cfg.Graph.TopK, cfg.Graph.BatchSize, logger)
		svc.Graph.Attach(snapshots)
	}

	svc.Engine = NewEngine(snapshots, collaborative, content, batch, products, results, jobs, events, metrics,
		EngineOptions{
			MaxFeatures: engineCfg.MaxFeatures,
			DefaultTopN: engineCfg.DefaultTopN,
			MaxTopN:     engineCfg.MaxTopN,
			DefaultBatch: BatchOptions{
				SampleSize: engineCfg.DefaultSampleUsers,
				TopN:       engineCfg.DefaultTopN,
			},
		}, logger)

	return svc, nil
}
