package middleware

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type CacheConfig struct {
	DefaultTTL time.Duration
	MaxSize    int64
	KeyPrefix  string
}

// ResponseCache caches successful GET responses in Redis. Every key embeds an epoch counter, so
// bumping the epoch with Invalidate orphans all earlier entries at once.
type ResponseCache struct {
	redis  *redis.Client
	config CacheConfig
	logger *logrus.Logger
}

type cachedResponse struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	ContentType string            `json:"content_type"`
	Body        []byte            `json:"body"`
}

var headersToCache = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// NewResponseCache returns a cache; a nil client disables caching.
func NewResponseCache(client *redis.Client, config CacheConfig, logger *logrus.Logger) *ResponseCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "cache"
	}
	return &ResponseCache{redis: client, config: config, logger: logger}
}

func (rc *ResponseCache) epochKey() string { return rc.config.KeyPrefix + ":epoch" }

// Invalidate drops every cached response by advancing the epoch.
func (rc *ResponseCache) Invalidate(ctx context.Context) {
	if rc.redis == nil {
		return
	}
	if err := rc.redis.Incr(ctx, rc.epochKey()).Err(); err != nil {
		rc.logger.WithError(err).Warn("Failed to invalidate response cache")
	}
}

func (rc *ResponseCache) Handler() gin.HandlerFunc {
	if rc.redis == nil {
		rc.logger.Warn("Redis client not available, response caching disabled")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if c.Request.Method != "GET" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		epoch, err := rc.redis.Get(ctx, rc.epochKey()).Int64()
		if err != nil && err != redis.Nil {
			rc.logger.WithError(err).Debug("Response cache unavailable")
			c.Next()
			return
		}

		cacheKey := generateCacheKey(c, rc.config.KeyPrefix, epoch)

		if data, err := rc.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var response cachedResponse
			if err := json.Unmarshal(data, &response); err == nil {
				for key, value := range response.Headers {
					c.Header(key, value)
				}
				c.Header("X-Cache", "HIT")
				c.Data(response.StatusCode, response.ContentType, response.Body)
				c.Abort()
				return
			}
		}

		writer := &cacheWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Header("X-Cache", "MISS")

		c.Next()

		status := writer.Status()
		if status < 200 || status >= 300 || len(writer.body) == 0 {
			return
		}
		if rc.config.MaxSize > 0 && int64(len(writer.body)) > rc.config.MaxSize {
			rc.logger.WithFields(logrus.Fields{
				"size":     len(writer.body),
				"max_size": rc.config.MaxSize,
			}).Debug("Response too large to cache")
			return
		}

		response := cachedResponse{
			StatusCode:  status,
			Headers:     make(map[string]string),
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body,
		}
		for _, header := range headersToCache {
			if value := writer.Header().Get(header); value != "" {
				response.Headers[header] = value
			}
		}

		data, err := json.Marshal(response)
		if err != nil {
			return
		}
		if err := rc.redis.Set(ctx, cacheKey, data, rc.config.DefaultTTL).Err(); err != nil {
			rc.logger.WithError(err).WithField("cache_key", cacheKey).Warn("Failed to cache response")
		}
	}
}

// cacheWriter captures the body while passing it through.
type cacheWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *cacheWriter) Write(data []byte) (int, error) {
	w.body = append(w.body, data...)
	return w.ResponseWriter.Write(data)
}

func (w *cacheWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}

func generateCacheKey(c *gin.Context, prefix string, epoch int64) string {
	keyStr := strings.Join([]string{c.Request.URL.Path, c.Request.URL.RawQuery}, "?")
	hash := md5.Sum([]byte(keyStr))
	return fmt.Sprintf("%s:%d:%x", prefix, epoch, hash)
}
