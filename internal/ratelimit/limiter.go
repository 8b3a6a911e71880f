// Package ratelimit enforces per-IP and per-user rate limits using Redis
// (when available) or an in-memory store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/conclave-rtc/sfu-core/internal/config"
	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the configured limiter instances.
type RateLimiter struct {
	apiGlobal   *limiter.Limiter
	apiPublic   *limiter.Limiter
	apiRooms    *limiter.Limiter
	apiMessages *limiter.Limiter
	wsIP        *limiter.Limiter
	wsUser      *limiter.Limiter
	store       limiter.Store
}

// NewRateLimiter builds a RateLimiter from config, using a Redis store when
// redisClient is non-nil, falling back to memory otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[string]string{
		"global":   cfg.RateLimitAPIGlobal,
		"public":   cfg.RateLimitAPIPublic,
		"rooms":    cfg.RateLimitAPIRooms,
		"messages": cfg.RateLimitAPIMessages,
		"wsIP":     cfg.RateLimitWsIP,
		"wsUser":   cfg.RateLimitWsUser,
	}
	parsed := make(map[string]limiter.Rate, len(rates))
	for name, formatted := range rates {
		r, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid %s rate %q: %w", name, formatted, err)
		}
		parsed[name] = r
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "sfu:limiter:v1:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, parsed["global"]),
		apiPublic:   limiter.New(store, parsed["public"]),
		apiRooms:    limiter.New(store, parsed["rooms"]),
		apiMessages: limiter.New(store, parsed["messages"]),
		wsIP:        limiter.New(store, parsed["wsIP"]),
		wsUser:      limiter.New(store, parsed["wsUser"]),
		store:       store,
	}, nil
}

// MiddlewareForEndpoint enforces the named endpoint's rate, keyed by the
// authenticated subject if present in gin context under "subject", else by IP.
func (rl *RateLimiter) MiddlewareForEndpoint(endpointType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var inst *limiter.Limiter
		switch endpointType {
		case "public":
			inst = rl.apiPublic
		case "rooms":
			inst = rl.apiRooms
		case "messages":
			inst = rl.apiMessages
		default:
			inst = rl.apiGlobal
		}

		key := c.ClientIP()
		if subject, ok := c.Get("subject"); ok {
			if s, ok := subject.(string); ok && s != "" {
				key = s
			}
		}

		ctx := c.Request.Context()
		lctx, err := inst.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), endpointType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "retry_after": lctx.Reset})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocketIP enforces the per-IP connection-attempt limit ahead of
// upgrade. Returns false (and writes the HTTP response) if exceeded.
func (rl *RateLimiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()
	lctx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws ip rate limiter failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited"})
		return false
	}
	return true
}

// CheckWebSocketUser enforces the per-user message rate after admission.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userKey string) error {
	lctx, err := rl.wsUser.Get(ctx, userKey)
	if err != nil {
		logging.Error(ctx, "ws user rate limiter failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_message", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}
	return nil
}
