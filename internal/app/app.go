package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/config"
	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/handlers"
	"github.com/temcen/ratingrec/internal/middleware"
	"github.com/temcen/ratingrec/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	services *services.Services
	handlers *handlers.Handlers
	cache    *middleware.ResponseCache
	router   *gin.Engine

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config:   cfg,
		logger:   SetupLogger(cfg),
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureResultTables(ctx, db.PG); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare result tables: %w", err)
	}

	// Runs cannot outlive the batch lock, so older staging generations are abandoned.
	swept, err := database.NewRecommendationRepository(db.PG).SweepStaging(ctx, cfg.Recommendation.Caching.BatchLockTTL)
	if err != nil {
		app.logger.WithError(err).Warn("Failed to sweep abandoned staging generations")
	} else if swept > 0 {
		app.logger.WithField("generations", swept).Info("Swept abandoned staging generations")
	}

	svc, err := services.New(cfg, app.logger, db, app.registry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.cache = middleware.NewResponseCache(db.Redis.Warm, middleware.CacheConfig{
		DefaultTTL: cfg.Recommendation.Caching.SavedResultsTTL,
		MaxSize:    cfg.Recommendation.Caching.MaxResponseBytes,
		KeyPrefix:  "saved_results",
	}, app.logger)
	svc.Engine.OnResultsChanged(app.cache.Invalidate)

	app.handlers = handlers.New(app.logger, svc.Engine, svc.Health, svc.Results, svc.Ratings, svc.Stats,
		handlers.Limits{DefaultTopN: cfg.Engine.DefaultTopN, MaxTopN: cfg.Engine.MaxTopN},
		services.BatchOptions{SampleSize: cfg.Engine.DefaultSampleUsers, TopN: cfg.Engine.DefaultTopN},
	)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start runs the background work: the initial model load, runtime metrics sampling and the
// command consumer when Kafka is enabled.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.config.Engine.LoadOnStart {
		go func() {
			if _, err := a.services.Engine.Reload(ctx); err != nil {
				a.logger.WithError(err).Error("Initial model load failed, serving without a model until reload")
			}
		}()
	}

	go a.services.Health.CollectSystemMetrics(ctx, 30*time.Second)
	go a.services.JobManager.RunCleanup(ctx, 10*time.Minute, a.config.Recommendation.Caching.JobStatusTTL)

	if a.services.MessageBus == nil {
		close(a.done)
		return
	}
	go func() {
		defer close(a.done)
		if err := a.services.MessageBus.ConsumeCommands(ctx, a.services.Engine.HandleCommand); err != nil &&
			!errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Command consumer stopped")
		}
	}()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			a.logger.Warn("Timed out waiting for command consumer")
		}
	}

	var errs []error
	if a.services.MessageBus != nil {
		if err := a.services.MessageBus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SetupLogger builds the process logger from the logging config.
func SetupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	cached := a.cache.Handler()
	limited := func(c *gin.Context) { c.Next() }
	if a.config.Security.RateLimit.Enabled {
		limited = middleware.RateLimit(a.services.RateLimit, a.logger)
	}

	api := router.Group("/api/v1")
	{
		// Recommendation routes
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/:userId", cached, a.handlers.Recommendation.GetSaved)
			recommendations.GET("/:userId/top", cached, a.handlers.Recommendation.GetTop)
			recommendations.GET("/:userId/category", cached, a.handlers.Recommendation.GetByCategory)
			recommendations.GET("/:userId/live", limited, a.handlers.Recommendation.GetLive)
			recommendations.GET("/:userId/hybrid", limited, a.handlers.Recommendation.GetHybrid)
		}

		// User routes
		users := api.Group("/users")
		{
			users.GET("/:userId/similar", limited, a.handlers.User.GetSimilarUsers)
			users.GET("/:userId/ratings", a.handlers.User.GetRatings)
		}

		// Product routes
		products := api.Group("/products")
		{
			products.GET("/top-recommended", cached, a.handlers.Product.GetTopRecommended)
			products.POST("/similarity-matrix", limited, a.handlers.Product.SimilarityMatrix)
			products.GET("/:productId/similar", limited, a.handlers.Product.GetSimilar)
			products.GET("/:productId/recommended-to", cached, a.handlers.Product.GetRecommendedTo)
		}

		api.GET("/stats", a.handlers.Stats.Get)

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.RequireAdmin(a.services.Auth, a.logger))
		{
			admin.GET("/model", a.handlers.Admin.GetModel)
			admin.POST("/model/reload", a.handlers.Admin.Reload)
			admin.POST("/recommendations/generate", a.handlers.Admin.Generate)
			admin.GET("/jobs/:jobId", a.handlers.Admin.GetJob)
		}
	}

	a.router = router
}
