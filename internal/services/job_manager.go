package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	JobTypeReload   = "model_reload"
	JobTypeGenerate = "batch_generation"
)

// JobManager tracks background reloads and batch runs. Jobs live in memory and are mirrored to
// Redis so any instance can answer status queries.
type JobManager struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*JobProgress
}

type JobProgress struct {
	JobID          uuid.UUID              `json:"job_id"`
	Type           string                 `json:"type"`
	Status         string                 `json:"status"`
	Progress       int                    `json:"progress"`
	TotalItems     int                    `json:"total_items"`
	ProcessedItems int                    `json:"processed_items"`
	FailedItems    int                    `json:"failed_items"`
	EstimatedTime  *int                   `json:"estimated_time,omitempty"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// NewJobManager creates a job manager. client may be nil to keep jobs in memory only.
func NewJobManager(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *JobManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobManager{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		jobs:   make(map[uuid.UUID]*JobProgress),
	}
}

func (jm *JobManager) CreateJob(ctx context.Context, jobType string, totalItems int) *JobProgress {
	now := time.Now()
	job := &JobProgress{
		JobID:      uuid.New(),
		Type:       jobType,
		Status:     JobStatusQueued,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
		Details:    map[string]interface{}{},
	}

	jm.save(ctx, job)

	jm.logger.WithFields(logrus.Fields{
		"job_id":      job.JobID,
		"total_items": totalItems,
		"job_type":    jobType,
	}).Info("Job created")

	return copyJob(job)
}

func (jm *JobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	jm.mu.RLock()
	job, ok := jm.jobs[jobID]
	jm.mu.RUnlock()
	if ok {
		return copyJob(job), nil
	}

	if jm.redis == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	data, err := jm.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from Redis: %w", err)
	}

	var stored JobProgress
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &stored, nil
}

// UpdateJobProgress records counts and status. TotalItems may be set late (0 leaves it as is).
func (jm *JobManager) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, processedItems, failedItems, totalItems int, status string) error {
	return jm.update(ctx, jobID, func(job *JobProgress) {
		if totalItems > 0 {
			job.TotalItems = totalItems
		}
		job.ProcessedItems = processedItems
		job.FailedItems = failedItems
		job.Status = status

		if job.TotalItems > 0 {
			job.Progress = int((float64(processedItems) / float64(job.TotalItems)) * 100)
		}

		if status == JobStatusProcessing && processedItems > 0 {
			elapsed := time.Since(job.CreatedAt).Seconds()
			avgTimePerItem := elapsed / float64(processedItems)
			remaining := int(avgTimePerItem * float64(job.TotalItems-processedItems))
			job.EstimatedTime = &remaining
		}
	})
}

// CompleteJob marks a job done and attaches its result.
func (jm *JobManager) CompleteJob(ctx context.Context, jobID uuid.UUID, result interface{}) error {
	return jm.update(ctx, jobID, func(job *JobProgress) {
		job.Status = JobStatusCompleted
		job.Progress = 100
		job.EstimatedTime = nil
		job.Details["result"] = result
	})
}

func (jm *JobManager) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	return jm.update(ctx, jobID, func(job *JobProgress) {
		job.Status = JobStatusFailed
		job.EstimatedTime = nil
		job.ErrorMessage = &errorMessage
	})
}

// ListActiveJobs returns queued and processing jobs known to this instance, oldest first.
func (jm *JobManager) ListActiveJobs(limit int) []*JobProgress {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := []*JobProgress{}
	for _, job := range jm.jobs {
		if job.Status == JobStatusQueued || job.Status == JobStatusProcessing {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// CleanupCompletedJobs drops finished jobs older than olderThan from memory. Redis copies expire
// through their TTL.
func (jm *JobManager) CleanupCompletedJobs(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	jm.mu.Lock()
	defer jm.mu.Unlock()

	cleaned := 0
	for id, job := range jm.jobs {
		if (job.Status == JobStatusCompleted || job.Status == JobStatusFailed) && job.UpdatedAt.Before(cutoff) {
			delete(jm.jobs, id)
			cleaned++
		}
	}

	jm.logger.WithFields(logrus.Fields{
		"cleaned_count": cleaned,
		"cutoff":        cutoff,
	}).Debug("Completed job cleanup")

	return cleaned
}

// RunCleanup drops finished jobs older than retention every interval until ctx is done.
func (jm *JobManager) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.CleanupCompletedJobs(retention)
		}
	}
}

func (jm *JobManager) update(ctx context.Context, jobID uuid.UUID, mutate func(*JobProgress)) error {
	jm.mu.Lock()
	job, ok := jm.jobs[jobID]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	snapshot := copyJob(job)
	jm.mu.Unlock()

	jm.mirror(ctx, snapshot)

	jm.logger.WithFields(logrus.Fields{
		"job_id":          jobID,
		"status":          snapshot.Status,
		"progress":        snapshot.Progress,
		"processed_items": snapshot.ProcessedItems,
		"failed_items":    snapshot.FailedItems,
	}).Debug("Job progress updated")

	return nil
}

func (jm *JobManager) save(ctx context.Context, job *JobProgress) {
	jm.mu.Lock()
	jm.jobs[job.JobID] = job
	snapshot := copyJob(job)
	jm.mu.Unlock()

	jm.mirror(ctx, snapshot)
}

func (jm *JobManager) mirror(ctx context.Context, job *JobProgress) {
	if jm.redis == nil {
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to marshal job")
		return
	}

	if err := jm.redis.Set(ctx, jobKey(job.JobID), data, jm.ttl).Err(); err != nil {
		jm.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to store job in Redis")
	}
}

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id.String())
}

func copyJob(job *JobProgress) *JobProgress {
	c := *job
	c.Details = make(map[string]interface{}, len(job.Details))
	for k, v := range job.Details {
		c.Details[k] = v
	}
	return &c
}
