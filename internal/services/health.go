package services

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/database"
)

type HealthCheck func(ctx context.Context) error

type HealthService struct {
	logger      *logrus.Logger
	snapshots   *SnapshotManager
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	timeout     time.Duration

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
	systemMetrics     *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService checks PostgreSQL as a critical dependency and the Redis instances and the
// optional Neo4j driver as non-critical ones.
func NewHealthService(db *database.Database, snapshots *SnapshotManager, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	critical := map[string]HealthCheck{
		"postgresql": func(ctx context.Context) error { return db.PG.Ping(ctx) },
	}
	nonCritical := map[string]HealthCheck{}
	if db.Redis != nil && db.Redis.Hot != nil {
		nonCritical["redis_hot"] = func(ctx context.Context) error { return db.Redis.Hot.Ping(ctx).Err() }
	}
	if db.Redis != nil && db.Redis.Warm != nil {
		nonCritical["redis_warm"] = func(ctx context.Context) error { return db.Redis.Warm.Ping(ctx).Err() }
	}
	if db.Neo4j != nil {
		nonCritical["neo4j"] = func(ctx context.Context) error { return db.Neo4j.VerifyConnectivity(ctx) }
	}

	return newHealthService(critical, nonCritical, snapshots, reg, logger)
}

func newHealthService(critical, nonCritical map[string]HealthCheck, snapshots *SnapshotManager, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	factory := promauto.With(reg)

	return &HealthService{
		logger:      logger,
		snapshots:   snapshots,
		critical:    critical,
		nonCritical: nonCritical,
		timeout:     5 * time.Second,

		healthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),
		lastHealthCheck: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),
		systemMetrics: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_info",
			Help: "System information metrics",
		}, []string{"metric_type"}),
	}
}

// CheckHealth reports "unhealthy" when a critical dependency fails, "degraded" when only
// non-critical ones fail or no model is loaded yet, and "healthy" otherwise.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	status.Critical = s.run(ctx, s.critical, status, true)
	status.NonCritical = s.run(ctx, s.nonCritical, status, false)

	modelReady := false
	if s.snapshots != nil {
		if snap := s.snapshots.Current(); snap != nil {
			modelReady = true
			status.Details["model"] = snap.Info()
		}
		status.Details["rating_source_breaker"] = s.snapshots.BreakerState()
	}
	if modelReady {
		status.Services["model"] = "healthy"
	} else {
		status.Services["model"] = "not_loaded"
	}

	switch {
	case len(status.Critical) > 0:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0 || !modelReady:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, checks map[string]HealthCheck, status *HealthStatus, critical bool) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			status.Services[name] = "unhealthy"
			failed = append(failed, name)
			entry := s.logger.WithError(err).WithField("service", name)
			if critical {
				entry.Error("Critical service is unhealthy")
			} else {
				entry.Warn("Non-critical service is unhealthy")
			}
			s.UpdateHealthMetrics(name, false)
			continue
		}
		status.Services[name] = "healthy"
		s.UpdateHealthMetrics(name, true)
	}
	return failed
}

// CollectSystemMetrics samples runtime memory and goroutine figures until ctx is done.
func (s *HealthService) CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var memStats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&memStats)
			s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
			s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
			s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
			s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
		}
	}
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
