package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobManager_Lifecycle(t *testing.T) {
	jm := NewJobManager(nil, 0, testLogger())
	ctx := context.Background()

	job := jm.CreateJob(ctx, JobTypeGenerate, 0)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.NotEqual(t, uuid.Nil, job.JobID)

	require.NoError(t, jm.UpdateJobProgress(ctx, job.JobID, 5, 1, 10, JobStatusProcessing))
	got, err := jm.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalItems)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, 1, got.FailedItems)
	assert.NotNil(t, got.EstimatedTime)
	assert.Len(t, jm.ListActiveJobs(0), 1)

	require.NoError(t, jm.CompleteJob(ctx, job.JobID, map[string]int{"succeeded": 9}))
	got, err = jm.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.EstimatedTime)
	assert.Empty(t, jm.ListActiveJobs(0))
}

func TestJobManager_UpdateJobProgress(t *testing.T) {
	tests := []struct {
		name             string
		totalItems       int
		processedItems   int
		expectedProgress int
	}{
		{name: "no progress", totalItems: 10, processedItems: 0, expectedProgress: 0},
		{name: "half complete", totalItems: 10, processedItems: 5, expectedProgress: 50},
		{name: "fully complete", totalItems: 10, processedItems: 10, expectedProgress: 100},
		{name: "unknown total", totalItems: 0, processedItems: 3, expectedProgress: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager(nil, 0, testLogger())
			ctx := context.Background()
			job := jm.CreateJob(ctx, JobTypeReload, 0)

			require.NoError(t, jm.UpdateJobProgress(ctx, job.JobID, tt.processedItems, 0, tt.totalItems, JobStatusProcessing))
			got, err := jm.GetJob(ctx, job.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedProgress, got.Progress)
		})
	}
}

func TestJobManager_FailAndCleanup(t *testing.T) {
	jm := NewJobManager(nil, 0, testLogger())
	ctx := context.Background()

	job := jm.CreateJob(ctx, JobTypeReload, 1)
	require.NoError(t, jm.FailJob(ctx, job.JobID, "rating source unavailable"))

	got, err := jm.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "rating source unavailable", *got.ErrorMessage)

	assert.Equal(t, 0, jm.CleanupCompletedJobs(time.Hour))
	assert.Equal(t, 1, jm.CleanupCompletedJobs(-time.Second))

	_, err = jm.GetJob(ctx, job.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobManager_RunCleanup(t *testing.T) {
	jm := NewJobManager(nil, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := jm.CreateJob(ctx, JobTypeGenerate, 0)
	require.NoError(t, jm.CompleteJob(ctx, done.JobID, nil))
	running := jm.CreateJob(ctx, JobTypeReload, 1)

	stopped := make(chan struct{})
	go func() {
		jm.RunCleanup(ctx, 5*time.Millisecond, 0)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		_, err := jm.GetJob(ctx, done.JobID)
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	_, err := jm.GetJob(ctx, running.JobID)
	assert.NoError(t, err)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after cancel")
	}
}
