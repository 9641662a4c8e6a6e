package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/services"
	"github.com/temcen/ratingrec/pkg/models"
)

// SavedResults reads the published generation of batch output.
type SavedResults interface {
	GetForUser(ctx context.Context, userID int64, limit int) ([]models.SavedRecommendation, error)
	GetTopForUser(ctx context.Context, userID int64) (*models.SavedRecommendation, error)
	GetForUserByCategory(ctx context.Context, userID int64, categoryName string, limit int) ([]models.SavedRecommendation, error)
	TopRecommendedProducts(ctx context.Context, limit int) ([]models.ProductRecommendationStats, error)
	UsersRecommendedProduct(ctx context.Context, productID string, limit int) ([]models.ProductRecipient, error)
	ActiveGeneration(ctx context.Context) (*models.Generation, error)
}

type RatingHistory interface {
	UserRatings(ctx context.Context, userID int64) ([]models.UserRating, error)
}

type StatsReader interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

type Limits struct {
	DefaultTopN int
	MaxTopN     int
}

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	User           *UserHandler
	Product        *ProductHandler
	Stats          *StatsHandler
	Admin          *AdminHandler
}

func New(
	logger *logrus.Logger,
	engine services.EngineInterface,
	health *services.HealthService,
	saved SavedResults,
	ratings RatingHistory,
	stats StatsReader,
	limits Limits,
	batchDefaults services.BatchOptions,
) *Handlers {
	validate := validator.New()

	return &Handlers{
		Health:         NewHealthHandler(logger, health),
		Recommendation: NewRecommendationHandler(engine, saved, limits, logger),
		User:           NewUserHandler(engine, ratings, limits, logger),
		Product:        NewProductHandler(engine, saved, validate, limits, logger),
		Stats:          NewStatsHandler(stats, engine, logger),
		Admin:          NewAdminHandler(engine, saved, validate, batchDefaults, logger),
	}
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{Error: models.ErrorBody{Code: code, Message: message}})
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, database.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrInvalidArgument):
		errorJSON(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, services.ErrInsufficientData):
		errorJSON(c, http.StatusServiceUnavailable, "INSUFFICIENT_DATA", err.Error())
	case errors.Is(err, services.ErrBatchInProgress):
		errorJSON(c, http.StatusConflict, "BATCH_IN_PROGRESS", err.Error())
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_USER_ID", "User ID must be an integer")
		return 0, false
	}
	return userID, true
}

// parseTopN reads the top_n query parameter. Range checks are left to the engine for computed
// results; stored reads clamp to max.
func parseTopN(c *gin.Context, limits Limits) (int, bool) {
	raw := c.Query("top_n")
	if raw == "" {
		return limits.DefaultTopN, true
	}
	topN, err := strconv.Atoi(raw)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("top_n must be an integer, got %q", raw))
		return 0, false
	}
	return topN, true
}

func parseLimit(c *gin.Context, limits Limits) (int, bool) {
	limit, ok := parseTopN(c, limits)
	if !ok {
		return 0, false
	}
	if limit < 1 || limit > limits.MaxTopN {
		errorJSON(c, http.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("top_n must be between 1 and %d", limits.MaxTopN))
		return 0, false
	}
	return limit, true
}

func validationError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
		return
	}
	errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
}
