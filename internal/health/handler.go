// Package health exposes liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conclave-rtc/sfu-core/internal/bus"
	"github.com/conclave-rtc/sfu-core/internal/logging"
	"go.uber.org/zap"
)

// EngineChecker abstracts the media engine probe for testability.
type EngineChecker interface {
	Probe(ctx context.Context) (healthy bool, fatal bool)
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	redisService *bus.Service
	engine       EngineChecker
}

// NewHandler wires the health handler to its dependencies. engine may be nil
// if the media engine check is disabled.
func NewHandler(redisService *bus.Service, engine EngineChecker) *Handler {
	return &Handler{redisService: redisService, engine: engine}
}

type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 as long as the process is alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only if every critical dependency is healthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.engine != nil {
		healthy, fatal := h.engine.Probe(ctx)
		if fatal {
			logging.Fatal(ctx, "media engine reported no healthy workers")
		}
		if healthy {
			checks["media_engine"] = "healthy"
		} else {
			checks["media_engine"] = "unhealthy"
			allHealthy = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
