package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/config"
)

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}

// RateLimitService applies a sliding-window limit per client key to the endpoints that compute
// recommendations on demand.
type RateLimitService struct {
	limit       int
	window      time.Duration
	logger      *logrus.Logger
	redisClient *redis.Client
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	limit, window := cfg.Requests, cfg.Window
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitService{
		limit:       limit,
		window:      window,
		logger:      logger,
		redisClient: redisClient,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, clientKey string) (*RateLimitInfo, error) {
	key := fmt.Sprintf("rate_limit:client:%s", clientKey)

	now := time.Now()
	windowStart := now.Add(-s.window)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}

	remaining := s.limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitInfo{
		Limit:     s.limit,
		Remaining: remaining,
		ResetTime: now.Add(s.window).Unix(),
	}, nil
}

// IsAllowed fails open when Redis is unreachable.
func (s *RateLimitService) IsAllowed(ctx context.Context, clientKey string) (bool, *RateLimitInfo) {
	info, err := s.CheckLimit(ctx, clientKey)
	if err != nil {
		s.logger.WithError(err).Warn("Rate limit check failed, allowing request")
		return true, &RateLimitInfo{Limit: s.limit, Remaining: s.limit, ResetTime: time.Now().Add(s.window).Unix()}
	}
	return info.Remaining > 0, info
}
