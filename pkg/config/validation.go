package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints plus a few rules that struct
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: field %q failed %q validation (value: %v)",
				fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("config: metrics port %d collides with server port", cfg.Metrics.Port)
	}

	return nil
}

// APIKey reads the Anthropic key from the configured environment
// variable. Checked at client construction, not at config load, so
// read-only commands work without a key.
func (c LLMConfig) APIKey() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.APIKeyEnv)
	}
	return key, nil
}
