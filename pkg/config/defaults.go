package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/bytesize"
)

// ApplyDefaults fills unspecified configuration fields. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyLLMDefaults(&cfg.LLM)
	applyStorageDefaults(&cfg.Storage)
	applyToolsDefaults(&cfg.Tools)
	applyWorkflowDefaults(&cfg.Workflow)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults. Enabled defaults
// to false (opt-in).
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8100
	}
	if cfg.ReadTimeout == 0 {
		// Large recording uploads stream through the read path.
		cfg.ReadTimeout = 30 * time.Minute
	}
	// WriteTimeout stays 0: the SSE stream must not be cut off.
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 10 * bytesize.GB
	}
}

// applyMetricsDefaults sets metrics defaults. Enabled defaults to false.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	applyBreakerDefaults(&cfg.Breaker)
}

func applyBreakerDefaults(cfg *BreakerConfig) {
	// The breaker is on unless explicitly disabled in the file; an
	// all-zero struct means the section was omitted.
	if !cfg.Enabled && cfg.Failures == 0 && cfg.Cooldown == 0 {
		cfg.Enabled = true
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(getDataDir(), "uploads")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(getDataDir(), "outputs")
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if len(cfg.ConverterCommand) == 0 {
		cfg.ConverterCommand = []string{"nwb-convert"}
	}
	if len(cfg.ValidatorCommand) == 0 {
		cfg.ValidatorCommand = []string{"nwb-validate"}
	}
}

func applyWorkflowDefaults(cfg *WorkflowConfig) {
	if cfg.PipelineTimeout == 0 {
		cfg.PipelineTimeout = 30 * time.Minute
	}
	if cfg.EventQueueSize == 0 {
		cfg.EventQueueSize = 64
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
