package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/services"
)

type StatsHandler struct {
	stats  StatsReader
	engine services.EngineInterface
	logger *logrus.Logger
}

func NewStatsHandler(stats StatsReader, engine services.EngineInterface, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, engine: engine, logger: logger}
}

func (h *StatsHandler) Get(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	info := h.engine.ModelInfo()
	stats.ModelUsers = info.Users
	stats.ModelProducts = info.Products

	c.JSON(http.StatusOK, stats)
}
