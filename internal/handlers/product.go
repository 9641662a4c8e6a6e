package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/services"
	"github.com/temcen/ratingrec/pkg/models"
)

type ProductHandler struct {
	engine   services.EngineInterface
	saved    SavedResults
	validate *validator.Validate
	limits   Limits
	logger   *logrus.Logger
}

func NewProductHandler(engine services.EngineInterface, saved SavedResults, validate *validator.Validate, limits Limits, logger *logrus.Logger) *ProductHandler {
	return &ProductHandler{
		engine:   engine,
		saved:    saved,
		validate: validate,
		limits:   limits,
		logger:   logger,
	}
}

func (h *ProductHandler) GetSimilar(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))
	topN, ok := parseTopN(c, h.limits)
	if !ok {
		return
	}

	similar, err := h.engine.SimilarProducts(c.Request.Context(), productID, topN)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id":       productID,
		"total_results":    len(similar),
		"similar_products": similar,
	})
}

func (h *ProductHandler) SimilarityMatrix(c *gin.Context) {
	var req models.PairwiseSimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		validationError(c, err)
		return
	}

	result, err := h.engine.PairwiseSimilarity(c.Request.Context(), req.ProductIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ProductHandler) GetTopRecommended(c *gin.Context) {
	limit, ok := parseLimit(c, h.limits)
	if !ok {
		return
	}

	products, err := h.saved.TopRecommendedProducts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_results": len(products),
		"products":      products,
	})
}

func (h *ProductHandler) GetRecommendedTo(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))
	limit, ok := parseLimit(c, h.limits)
	if !ok {
		return
	}

	recipients, err := h.saved.UsersRecommendedProduct(c.Request.Context(), productID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id":    productID,
		"total_results": len(recipients),
		"users":         recipients,
	})
}
