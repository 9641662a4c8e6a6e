package models

import (
	"time"

	"github.com/google/uuid"
)

type GenerateRequest struct {
	SampleUsers *int   `json:"sample_users,omitempty" validate:"omitempty,min=1"`
	Seed        *int64 `json:"seed,omitempty"`
	TopN        *int   `json:"top_n,omitempty" validate:"omitempty,min=1,max=100"`
}

type JobAccepted struct {
	JobID   uuid.UUID `json:"job_id"`
	Type    string    `json:"type"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// BatchSummary reports the outcome of one batch generation run.
type BatchSummary struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	Empty        int       `json:"empty"`
	Failed       int       `json:"failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type ModelInfo struct {
	Ready       bool      `json:"model_ready"`
	Version     int64     `json:"version"`
	Users       int       `json:"users"`
	Products    int       `json:"products"`
	Ratings     int       `json:"ratings"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
	BuildMillis int64     `json:"build_ms"`
}

type Stats struct {
	TotalUsers           int64   `json:"total_users"`
	TotalProducts        int64   `json:"total_products"`
	TotalCategories      int64   `json:"total_categories"`
	TotalRatings         int64   `json:"total_ratings"`
	TotalRecommendations int64   `json:"total_recommendations"`
	UsersWithRecs        int64   `json:"users_with_recs"`
	AvgPredictedRating   float64 `json:"avg_predicted_rating"`
	ModelUsers           int     `json:"model_users"`
	ModelProducts        int     `json:"model_products"`
}

const (
	EventModelReloaded  = "model_reloaded"
	EventReloadFailed   = "model_reload_failed"
	EventBatchCompleted = "batch_completed"
	EventBatchFailed    = "batch_failed"
)

// EngineEvent announces the outcome of a reload or batch run.
type EngineEvent struct {
	Type      string        `json:"type"`
	JobID     *uuid.UUID    `json:"job_id,omitempty"`
	Model     *ModelInfo    `json:"model,omitempty"`
	Summary   *BatchSummary `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	CommandReload   = "reload"
	CommandGenerate = "generate"
)

// EngineCommand asks the engine to reload or regenerate. Delivered over the command topic.
type EngineCommand struct {
	Type        string `json:"type"`
	SampleUsers *int   `json:"sample_users,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
	TopN        *int   `json:"top_n,omitempty"`
}
