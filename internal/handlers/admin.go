package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/middleware"
	"github.com/temcen/ratingrec/internal/services"
	"github.com/temcen/ratingrec/pkg/models"
)

// AdminHandler triggers reloads and batch runs. Both run as background jobs.
type AdminHandler struct {
	engine        services.EngineInterface
	saved         SavedResults
	validate      *validator.Validate
	batchDefaults services.BatchOptions
	logger        *logrus.Logger
}

func NewAdminHandler(engine services.EngineInterface, saved SavedResults, validate *validator.Validate, batchDefaults services.BatchOptions, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		engine:        engine,
		saved:         saved,
		validate:      validate,
		batchDefaults: batchDefaults,
		logger:        logger,
	}
}

func (h *AdminHandler) Reload(c *gin.Context) {
	job := h.engine.StartReload()

	h.logger.WithFields(logrus.Fields{
		"job_id":  job.JobID,
		"subject": c.GetString(middleware.ContextSubject),
	}).Info("Model reload requested")

	c.JSON(http.StatusAccepted, models.JobAccepted{
		JobID:   job.JobID,
		Type:    job.Type,
		Status:  job.Status,
		Message: "Model reload started",
	})
}

func (h *AdminHandler) Generate(c *gin.Context) {
	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		validationError(c, err)
		return
	}

	opts := h.batchDefaults
	if req.SampleUsers != nil {
		opts.SampleSize = *req.SampleUsers
	}
	if req.Seed != nil {
		opts.Seed = req.Seed
	}
	if req.TopN != nil {
		opts.TopN = *req.TopN
	}

	job, err := h.engine.StartBatch(opts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":      job.JobID,
		"sample_size": opts.SampleSize,
		"subject":     c.GetString(middleware.ContextSubject),
	}).Info("Batch generation requested")

	c.JSON(http.StatusAccepted, models.JobAccepted{
		JobID:   job.JobID,
		Type:    job.Type,
		Status:  job.Status,
		Message: "Batch generation started",
	})
}

func (h *AdminHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format")
		return
	}

	job, err := h.engine.Job(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

const activeJobsLimit = 20

type modelStatus struct {
	Model      models.ModelInfo        `json:"model"`
	Generation *models.Generation      `json:"active_generation,omitempty"`
	ActiveJobs []*services.JobProgress `json:"active_jobs"`
}

// GetModel reports the serving snapshot, the published result generation and running jobs.
func (h *AdminHandler) GetModel(c *gin.Context) {
	status := modelStatus{
		Model:      h.engine.ModelInfo(),
		ActiveJobs: h.engine.ActiveJobs(activeJobsLimit),
	}

	generation, err := h.saved.ActiveGeneration(c.Request.Context())
	switch {
	case err == nil:
		status.Generation = generation
	case errors.Is(err, database.ErrNotFound):
		// Nothing published yet.
	default:
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
