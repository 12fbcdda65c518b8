// Package config loads and validates the nwbd configuration.
//
// Configuration sources, in order of precedence:
//  1. CLI flags (highest)
//  2. Environment variables (NWB_*)
//  3. Configuration file (YAML)
//  4. Defaults (lowest)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/bytesize"
)

// Config is the static nwbd configuration. Everything dynamic (the
// session, conversation history, validation results) lives in memory
// and is managed through the REST API.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the REST/SSE API server
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics configures the Prometheus metrics server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// LLM configures the language-model provider
	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`

	// Storage configures where uploads and conversion outputs live
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Tools configures the external converter and validator commands
	Tools ToolsConfig `mapstructure:"tools" yaml:"tools"`

	// Workflow configures orchestration timeouts and queue sizes
	Workflow WorkflowConfig `mapstructure:"workflow" yaml:"workflow"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When
// enabled, spans are exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection to the
	// collector. Set true for local development.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ServerConfig configures the REST/SSE API server.
type ServerConfig struct {
	// Host is the listen address. Default: "127.0.0.1"
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the API listen port. Default: 8100
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout caps how long reading a request may take. Uploads of
	// large recordings dominate this; keep it generous.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout caps response writes. It must stay zero (unlimited)
	// for the SSE stream to survive; per-request timeouts are applied
	// in middleware instead.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout closes idle keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout is the per-request middleware timeout. SSE and
	// upload routes are exempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// CORSOrigins lists allowed browser origins for the frontend.
	// Default: ["*"]
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// MaxUploadSize bounds a single upload request body.
	// Supports human-readable formats: "10GB", "512MB", "10Gi".
	// Default: 10GB
	MaxUploadSize bytesize.ByteSize `mapstructure:"max_upload_size" yaml:"max_upload_size,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint. Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	// Provider selects the model backend. Currently: "anthropic"
	Provider string `mapstructure:"provider" validate:"required,oneof=anthropic" yaml:"provider"`

	// Model is the provider model identifier
	Model string `mapstructure:"model" validate:"required" yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	// Default: "ANTHROPIC_API_KEY"
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`

	// MaxTokens caps a single completion. Default: 4096
	MaxTokens int `mapstructure:"max_tokens" validate:"omitempty,gt=0" yaml:"max_tokens"`

	// Timeout is the per-call deadline. Default: 180s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Breaker configures the circuit breaker around provider calls
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the LLM circuit breaker.
type BreakerConfig struct {
	// Enabled controls whether the breaker wraps the provider.
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Failures is the consecutive-failure count that opens the circuit.
	// Default: 5
	Failures uint32 `mapstructure:"failures" yaml:"failures"`

	// Cooldown is how long the circuit stays open before probing.
	// Default: 30s
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// StorageConfig configures the on-disk layout.
type StorageConfig struct {
	// UploadDir receives uploaded recordings (required)
	UploadDir string `mapstructure:"upload_dir" validate:"required" yaml:"upload_dir"`

	// OutputDir receives versioned NWB outputs and reports (required)
	OutputDir string `mapstructure:"output_dir" validate:"required" yaml:"output_dir"`
}

// ToolsConfig names the external conversion and validation commands.
// Both speak a JSON line protocol on stdin/stdout; the actual NWB
// writing and inspection happen outside this process.
type ToolsConfig struct {
	// ConverterCommand is the command (argv) that performs the
	// format-specific NWB conversion. Default: ["nwb-convert"]
	ConverterCommand []string `mapstructure:"converter_command" yaml:"converter_command"`

	// ValidatorCommand is the command (argv) that inspects an NWB file
	// and emits issues as JSON. Default: ["nwb-validate"]
	ValidatorCommand []string `mapstructure:"validator_command" yaml:"validator_command"`
}

// WorkflowConfig configures orchestration behavior.
type WorkflowConfig struct {
	// PipelineTimeout bounds one detect-convert-validate pass.
	// Default: 30m
	PipelineTimeout time.Duration `mapstructure:"pipeline_timeout" yaml:"pipeline_timeout"`

	// EventQueueSize is the per-subscriber event queue depth.
	// Default: 64
	EventQueueSize int `mapstructure:"event_queue_size" validate:"omitempty,gt=0" yaml:"event_queue_size"`

	// KeepAliveInterval is the SSE keep-alive comment cadence.
	// Default: 15s
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
}

// Load loads configuration from file, environment, and defaults.
// An absent config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when an
// explicitly requested file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			// No file anywhere: run on defaults, like a fresh install.
			return GetDefaultConfig(), nil
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  nwbd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML. Permissions are
// restricted because the file may name sensitive endpoints.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes a sample configuration file to the default location.
// Returns the path it wrote.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration file to the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}
	return SaveConfig(GetDefaultConfig(), path)
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the NWB_ prefix and underscores.
	// Example: NWB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NWB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom decode hooks: human-readable
// byte sizes and duration strings.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// accepting "10Gi", "500MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/nwbd,
// ~/.config/nwbd, or the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nwbd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nwbd")
}

// getDataDir returns the default data directory for uploads and outputs:
// $XDG_DATA_HOME/nwbd or ~/.local/share/nwbd.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "nwbd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "nwbd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
