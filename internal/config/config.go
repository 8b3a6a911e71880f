// Package config validates environment configuration for the room orchestration core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	SFUSecret       string
	Port            string
	MediaEngineAddr string

	// Optional variables with defaults
	WebinarBaseURL string
	InstanceID     string
	Version        string
	GoEnv          string
	LogLevel       string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Room lifecycle tuning
	DisconnectGrace    time.Duration
	AdminCleanupGrace  time.Duration
	EmptyRoomGrace     time.Duration
	QualityLowThresh   int
	QualityStdThresh   int
	MediaEngineProbeN  int
	OtelCollectorAddr  string
	TracingServiceName string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error aggregating every problem found, rather than failing on the first.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.SFUSecret = os.Getenv("SFU_SECRET")
	if cfg.SFUSecret == "" {
		errs = append(errs, "SFU_SECRET is required")
	} else if len(cfg.SFUSecret) < 32 {
		errs = append(errs, fmt.Sprintf("SFU_SECRET must be at least 32 characters (got %d)", len(cfg.SFUSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.MediaEngineAddr = os.Getenv("MEDIA_ENGINE_ADDR")
	if cfg.MediaEngineAddr == "" {
		errs = append(errs, "MEDIA_ENGINE_ADDR is required")
	} else if !isValidHostPort(cfg.MediaEngineAddr) {
		errs = append(errs, fmt.Sprintf("MEDIA_ENGINE_ADDR must be in format 'host:port' (got '%s')", cfg.MediaEngineAddr))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.WebinarBaseURL = getEnvOrDefault("WEBINAR_BASE_URL", "https://meet.example.com")
	cfg.InstanceID = getEnvOrDefault("INSTANCE_ID", randomishID())
	cfg.Version = getEnvOrDefault("VERSION", "dev")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.DisconnectGrace = durationOrDefault("DISCONNECT_GRACE_MS", 10*time.Second)
	cfg.AdminCleanupGrace = durationOrDefault("ADMIN_CLEANUP_GRACE_MS", 2*time.Minute)
	cfg.EmptyRoomGrace = durationOrDefault("EMPTY_ROOM_GRACE_MS", 5*time.Second)

	cfg.QualityLowThresh = intOrDefault("QUALITY_LOW_THRESHOLD", 10)
	cfg.QualityStdThresh = intOrDefault("QUALITY_STANDARD_THRESHOLD", 7)
	if cfg.QualityStdThresh >= cfg.QualityLowThresh {
		errs = append(errs, fmt.Sprintf("QUALITY_STANDARD_THRESHOLD (%d) must be less than QUALITY_LOW_THRESHOLD (%d)", cfg.QualityStdThresh, cfg.QualityLowThresh))
	}
	cfg.MediaEngineProbeN = intOrDefault("MEDIA_ENGINE_PROBE_FAILURES", 3)

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.TracingServiceName = getEnvOrDefault("TRACING_SERVICE_NAME", "sfu-core")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func intOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// randomishID avoids importing a UUID dependency just to label this instance when
// INSTANCE_ID isn't set; callers needing collision-resistance should set it explicitly.
func randomishID() string {
	return fmt.Sprintf("instance-%d", os.Getpid())
}
