package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/bytesize"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)

	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout, "SSE needs an unbounded write path")
	assert.Equal(t, 10*bytesize.GB, cfg.Server.MaxUploadSize)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, 180*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.LLM.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.LLM.Breaker.Failures)
	assert.Equal(t, 30*time.Second, cfg.LLM.Breaker.Cooldown)

	assert.NotEmpty(t, cfg.Storage.UploadDir)
	assert.NotEmpty(t, cfg.Storage.OutputDir)
	assert.NotEqual(t, cfg.Storage.UploadDir, cfg.Storage.OutputDir)

	assert.Equal(t, 30*time.Minute, cfg.Workflow.PipelineTimeout)
	assert.Equal(t, 64, cfg.Workflow.EventQueueSize)
	assert.Equal(t, 15*time.Second, cfg.Workflow.KeepAliveInterval)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "error"
	cfg.Server.Port = 9999
	cfg.LLM.Breaker.Enabled = false
	cfg.LLM.Breaker.Failures = 2

	ApplyDefaults(cfg)

	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.False(t, cfg.LLM.Breaker.Enabled, "explicit breaker disable survives")
	assert.Equal(t, uint32(2), cfg.LLM.Breaker.Failures)
}

func TestMetricsPortDefaultOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Zero(t, cfg.Metrics.Port)

	cfg = &Config{}
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, Validate(GetDefaultConfig()))
}
