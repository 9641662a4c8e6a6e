package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/services"
	"github.com/temcen/ratingrec/pkg/models"
)

type RecommendationHandler struct {
	engine services.EngineInterface
	saved  SavedResults
	limits Limits
	logger *logrus.Logger
}

func NewRecommendationHandler(engine services.EngineInterface, saved SavedResults, limits Limits, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine: engine,
		saved:  saved,
		limits: limits,
		logger: logger,
	}
}

// GetSaved returns the user's recommendations from the published generation.
func (h *RecommendationHandler) GetSaved(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c, h.limits)
	if !ok {
		return
	}

	saved, err := h.saved.GetForUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(saved) == 0 {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no recommendations found for user %d", userID))
		return
	}

	c.JSON(http.StatusOK, models.SavedRecommendationResponse{
		UserID:          userID,
		TotalResults:    len(saved),
		Recommendations: saved,
	})
}

func (h *RecommendationHandler) GetTop(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	top, err := h.saved.GetTopForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":            userID,
		"top_recommendation": top,
	})
}

func (h *RecommendationHandler) GetByCategory(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	category := strings.TrimSpace(c.Query("category_name"))
	if category == "" {
		errorJSON(c, http.StatusBadRequest, "INVALID_ARGUMENT", "category_name is required")
		return
	}
	limit, ok := parseLimit(c, h.limits)
	if !ok {
		return
	}

	saved, err := h.saved.GetForUserByCategory(c.Request.Context(), userID, category, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(saved) == 0 {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no recommendations found for user %d in category %q", userID, category))
		return
	}

	c.JSON(http.StatusOK, models.SavedRecommendationResponse{
		UserID:          userID,
		CategoryFilter:  category,
		TotalResults:    len(saved),
		Recommendations: saved,
	})
}

// GetLive computes recommendations against the current model. With save=true the result also
// replaces the user's rows in the published generation.
func (h *RecommendationHandler) GetLive(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	topN, ok := parseTopN(c, h.limits)
	if !ok {
		return
	}
	save, err := strconv.ParseBool(c.DefaultQuery("save", "false"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_ARGUMENT", "save must be a boolean")
		return
	}

	var recs []models.Recommendation
	if save {
		recs, err = h.engine.RecommendAndSave(c.Request.Context(), userID, topN)
	} else {
		recs, err = h.engine.Recommend(c.Request.Context(), userID, topN)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.RecommendationResponse{
		UserID:          userID,
		Source:          models.SourceCollaborative,
		TotalResults:    len(recs),
		Recommendations: recs,
		GeneratedAt:     time.Now().UTC(),
	})
}

func (h *RecommendationHandler) GetHybrid(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	topN, ok := parseTopN(c, h.limits)
	if !ok {
		return
	}

	var productID *string
	if p := strings.TrimSpace(c.Query("product_id")); p != "" {
		productID = &p
	}

	items, err := h.engine.Hybrid(c.Request.Context(), userID, productID, topN)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.HybridResponse{
		UserID:          userID,
		SeedProductID:   productID,
		TotalResults:    len(items),
		Recommendations: items,
	})
}
