package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/temcen/ratingrec/pkg/models"
)

// EngineMetrics exposes engine activity to Prometheus. A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	snapshotUsers   prometheus.Gauge
	snapshotItems   prometheus.Gauge
	snapshotVersion prometheus.Gauge
	snapshotBuild   prometheus.Gauge
	reloads         *prometheus.CounterVec
	batchUsers      *prometheus.CounterVec
	batchRuns       prometheus.Counter
	batchDuration   prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)

	return &EngineMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_requests_total",
			Help: "Engine operations by outcome",
		}, []string{"operation", "outcome"}),

		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recommendation_latency_seconds",
			Help:    "Engine operation latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"operation"}),

		snapshotUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_snapshot_users",
			Help: "Users in the published snapshot",
		}),
		snapshotItems: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_snapshot_products",
			Help: "Products in the published snapshot",
		}),
		snapshotVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_snapshot_version",
			Help: "Version of the published snapshot",
		}),
		snapshotBuild: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_snapshot_build_seconds",
			Help: "Time spent computing the published snapshot",
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_reloads_total",
			Help: "Model reloads by outcome",
		}, []string{"outcome"}),

		batchUsers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_generation_users_total",
			Help: "Users processed by batch generation, by outcome",
		}, []string{"outcome"}),
		batchRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "batch_generation_runs_total",
			Help: "Completed batch generation runs",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_generation_duration_seconds",
			Help:    "Batch generation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// ObserveRequest records one engine call. Outcome is derived from the error's class.
func (m *EngineMetrics) ObserveRequest(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcomeOf(err)).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *EngineMetrics) ObserveSnapshot(snap *ModelSnapshot) {
	if m == nil || snap == nil {
		return
	}
	users, products := snap.Ratings.Dims()
	m.snapshotUsers.Set(float64(users))
	m.snapshotItems.Set(float64(products))
	m.snapshotVersion.Set(float64(snap.Version))
	m.snapshotBuild.Set(snap.BuildDuration.Seconds())
}

func (m *EngineMetrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(outcomeOf(err)).Inc()
}

func (m *EngineMetrics) ObserveBatchUser(outcome string) {
	if m == nil {
		return
	}
	m.batchUsers.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveBatch(summary *models.BatchSummary) {
	if m == nil {
		return
	}
	m.batchRuns.Inc()
	m.batchDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrBatchInProgress):
		return "conflict"
	default:
		return "error"
	}
}
