package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ThrottleConfig bounds how often a single client may hit the credential
// endpoints. This is an IP-level request throttle; the per-account lockout
// lives in the authenticator and is durable.
type ThrottleConfig struct {
	MaxRequests    int
	Window         time.Duration
	RedisKeyPrefix string
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxRequests:    20,
		Window:         time.Minute,
		RedisKeyPrefix: "access:throttle:",
	}
}

// Throttle rate-limits credential endpoints per client IP, counting in Redis
// so the limit holds across replicas. When Redis is down it degrades to a
// per-process in-memory counter rather than failing open entirely.
type Throttle struct {
	config      ThrottleConfig
	redisClient *redis.Client
	logger      *logrus.Logger

	localMu     sync.Mutex
	localCounts map[string]*localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

func NewThrottle(redisClient *redis.Client, logger *logrus.Logger, config ThrottleConfig) *Throttle {
	if config.MaxRequests <= 0 {
		config = DefaultThrottleConfig()
	}
	return &Throttle{
		config:      config,
		redisClient: redisClient,
		logger:      logger,
		localCounts: make(map[string]*localWindow),
	}
}

// Limit is the gin handler applied in front of login, refresh and password
// reset routes.
func (t *Throttle) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := t.key(c.ClientIP(), c.FullPath())

		allowed := t.allow(c.Request.Context(), key)
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, slow down",
				"code":  "RATE_LIMITED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (t *Throttle) allow(ctx context.Context, key string) bool {
	if t.redisClient != nil {
		count, err := t.redisClient.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				if err := t.redisClient.Expire(ctx, key, t.config.Window).Err(); err != nil {
					t.logger.WithError(err).Warn("Failed to set throttle window TTL")
				}
			}
			return count <= int64(t.config.MaxRequests)
		}
		t.logger.WithError(err).Warn("Redis throttle unavailable, using local counter")
	}

	return t.allowLocal(key)
}

func (t *Throttle) allowLocal(key string) bool {
	now := time.Now()

	t.localMu.Lock()
	defer t.localMu.Unlock()

	window, ok := t.localCounts[key]
	if !ok || now.After(window.resetAt) {
		t.localCounts[key] = &localWindow{count: 1, resetAt: now.Add(t.config.Window)}
		t.pruneLocked(now)
		return true
	}

	window.count++
	return window.count <= t.config.MaxRequests
}

// pruneLocked drops expired windows so the fallback map cannot grow without
// bound. Caller holds localMu.
func (t *Throttle) pruneLocked(now time.Time) {
	if len(t.localCounts) < 10000 {
		return
	}
	for key, window := range t.localCounts {
		if now.After(window.resetAt) {
			delete(t.localCounts, key)
		}
	}
}

// key hashes the IP and route so raw client addresses never land in Redis.
func (t *Throttle) key(ip, path string) string {
	data := fmt.Sprintf("%s:%s", ip, strings.ToLower(path))
	hash := sha256.Sum256([]byte(data))
	return t.config.RedisKeyPrefix + hex.EncodeToString(hash[:16])
}
