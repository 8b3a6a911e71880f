package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func validEnv() map[string]string {
	return map[string]string{
		"SFU_SECRET":        "0123456789abcdef0123456789abcdef",
		"PORT":              "8080",
		"MEDIA_ENGINE_ADDR": "media-engine:9000",
	}
}

func TestValidateEnvSucceedsWithOnlyRequiredVars(t *testing.T) {
	setEnv(t, validEnv())
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "media-engine:9000", cfg.MediaEngineAddr)
	assert.Equal(t, "https://meet.example.com", cfg.WebinarBaseURL)
	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, 10*time.Second, cfg.DisconnectGrace)
}

func TestValidateEnvRejectsShortSecret(t *testing.T) {
	env := validEnv()
	env["SFU_SECRET"] = "tooshort"
	setEnv(t, env)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SFU_SECRET must be at least 32 characters")
}

func TestValidateEnvRejectsMissingRequired(t *testing.T) {
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SFU_SECRET is required")
	assert.Contains(t, err.Error(), "PORT is required")
	assert.Contains(t, err.Error(), "MEDIA_ENGINE_ADDR is required")
}

func TestValidateEnvRejectsInvalidPort(t *testing.T) {
	env := validEnv()
	env["PORT"] = "99999"
	setEnv(t, env)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a valid port number")
}

func TestValidateEnvRejectsMalformedHostPort(t *testing.T) {
	env := validEnv()
	env["MEDIA_ENGINE_ADDR"] = "no-port-here"
	setEnv(t, env)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDIA_ENGINE_ADDR must be in format")
}

func TestValidateEnvRedisAddrDefaultsWhenEnabled(t *testing.T) {
	env := validEnv()
	env["REDIS_ENABLED"] = "true"
	setEnv(t, env)
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestValidateEnvRejectsMalformedRedisAddr(t *testing.T) {
	env := validEnv()
	env["REDIS_ENABLED"] = "true"
	env["REDIS_ADDR"] = "bad"
	setEnv(t, env)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR must be in format")
}

func TestValidateEnvRejectsQualityThresholdsOutOfOrder(t *testing.T) {
	env := validEnv()
	env["QUALITY_LOW_THRESHOLD"] = "5"
	env["QUALITY_STANDARD_THRESHOLD"] = "5"
	setEnv(t, env)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be less than")
}

func TestValidateEnvParsesDurationsFromMilliseconds(t *testing.T) {
	env := validEnv()
	env["DISCONNECT_GRACE_MS"] = "1500"
	setEnv(t, env)
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.DisconnectGrace)
}

func TestValidateEnvFallsBackToDefaultOnUnparsableInt(t *testing.T) {
	env := validEnv()
	env["QUALITY_LOW_THRESHOLD"] = "not-a-number"
	setEnv(t, env)
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.QualityLowThresh)
}

func TestIsValidHostPort(t *testing.T) {
	assert.True(t, isValidHostPort("localhost:6379"))
	assert.True(t, isValidHostPort("10.0.0.1:1"))
	assert.False(t, isValidHostPort("localhost"))
	assert.False(t, isValidHostPort(":6379"))
	assert.False(t, isValidHostPort("localhost:99999"))
	assert.False(t, isValidHostPort("a:b:c"))
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("SOME_TEST_VAR", "explicit")
	assert.Equal(t, "explicit", getEnvOrDefault("SOME_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("SOME_UNSET_TEST_VAR", "fallback"))
}
