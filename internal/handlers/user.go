package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/services"
)

type UserHandler struct {
	engine  services.EngineInterface
	ratings RatingHistory
	limits  Limits
	logger  *logrus.Logger
}

func NewUserHandler(engine services.EngineInterface, ratings RatingHistory, limits Limits, logger *logrus.Logger) *UserHandler {
	return &UserHandler{
		engine:  engine,
		ratings: ratings,
		limits:  limits,
		logger:  logger,
	}
}

func (h *UserHandler) GetSimilarUsers(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	topN, ok := parseTopN(c, h.limits)
	if !ok {
		return
	}

	similar, err := h.engine.SimilarUsers(c.Request.Context(), userID, topN)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"total_results": len(similar),
		"similar_users": similar,
	})
}

// GetRatings returns the user's rating history with a small summary.
func (h *UserHandler) GetRatings(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	ratings, err := h.ratings.UserRatings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(ratings) == 0 {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no ratings found for user %d", userID))
		return
	}

	var sum float64
	for _, r := range ratings {
		sum += r.Rating
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"total_ratings": len(ratings),
		"avg_rating":    sum / float64(len(ratings)),
		"ratings":       ratings,
	})
}
