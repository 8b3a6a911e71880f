package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conclave-rtc/sfu-core/internal/auth"
	"github.com/conclave-rtc/sfu-core/internal/bus"
	"github.com/conclave-rtc/sfu-core/internal/config"
	"github.com/conclave-rtc/sfu-core/internal/health"
	"github.com/conclave-rtc/sfu-core/internal/hub"
	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/conclave-rtc/sfu-core/internal/middleware"
	"github.com/conclave-rtc/sfu-core/internal/ratelimit"
	"github.com/conclave-rtc/sfu-core/internal/room"
	"github.com/conclave-rtc/sfu-core/internal/tracing"
)

func main() {
	envPaths := []string{".env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting sfu-core", zap.String("instance", cfg.InstanceID), zap.String("version", cfg.Version))

	tp, err := tracing.InitTracer(ctx, cfg.TracingServiceName, cfg.OtelCollectorAddr)
	if err != nil {
		logging.Error(ctx, "failed to init tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	var validator hub.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled via SKIP_AUTH, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Error(ctx, "failed to init auth validator", zap.Error(err))
			os.Exit(1)
		}
		validator = v
	}

	engine, err := mediaengine.NewClient(cfg.MediaEngineAddr, cfg.MediaEngineProbeN)
	if err != nil {
		logging.Error(ctx, "failed to dial media engine", zap.Error(err))
		os.Exit(1)
	}
	defer engine.Close()

	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect to redis", zap.Error(err))
			os.Exit(1)
		}
		defer busService.Close()
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Error(ctx, "failed to init rate limiter", zap.Error(err))
		os.Exit(1)
	}

	macKey := []byte(cfg.SFUSecret)
	admission := room.NewEngine(nil, macKey, true, cfg.DisconnectGrace)
	router := room.NewRouter(admission, macKey)
	roomCfg := room.Config{
		LowThreshold:      cfg.QualityLowThresh,
		StandardThreshold: cfg.QualityStdThresh,
		DisconnectGrace:   cfg.DisconnectGrace,
		AdminCleanupGrace: cfg.AdminCleanupGrace,
		EmptyRoomGrace:    cfg.EmptyRoomGrace,
	}

	allowedOrigins := hub.AllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	h := hub.New(validator, limiter, admission, router, engine, busService, roomCfg, allowedOrigins)
	admission.SetRegistry(h)

	healthHandler := health.NewHandler(busService, engine)

	gin.SetMode(ginMode(cfg))
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	r.Use(cors.New(corsCfg))

	r.GET("/ws/room/:roomId", h.ServeWs)
	r.GET("/health/live", healthHandler.Liveness)
	r.GET("/health/ready", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/rooms", limiter.MiddlewareForEndpoint("rooms"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": h.Rooms()})
	})
	r.POST("/drain", limiter.MiddlewareForEndpoint("public"), func(c *gin.Context) {
		var body struct {
			Draining bool   `json:"draining"`
			Force    bool   `json:"force"`
			Notice   string `json:"notice"`
			NoticeMs int    `json:"noticeMs"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		h.Drain(c.Request.Context(), body.Draining, body.Force, body.Notice, body.NoticeMs)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	h.Drain(ctx, true, true, "server restarting", 5000)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}
	logging.Info(ctx, "server exiting")
}

func ginMode(cfg *config.Config) string {
	if cfg.DevelopmentMode {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
