package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
	assert.Contains(t, err.Error(), "Logging.Format")
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.LLM.Provider = "openai"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestValidateRejectsNegativeSampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = -0.5

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gte")
}

func TestValidateRejectsMissingStorageDirs(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.OutputDir = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OutputDir")
}

func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.LLM.APIKeyEnv = "NWB_TEST_KEY"

	t.Setenv("NWB_TEST_KEY", "")
	_, err := cfg.LLM.APIKey()
	require.Error(t, err)

	t.Setenv("NWB_TEST_KEY", "sk-test")
	key, err := cfg.LLM.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)
}
