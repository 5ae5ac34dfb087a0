package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, expands environment variables,
// merges the built-in defaults under it, and validates the result. A missing
// file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("Configuration file not found, using defaults", "path", path)
	case err != nil:
		return nil, &LoadError{File: path, Err: err}
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
	}

	// Fill every field the file left at its zero value from the defaults.
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, &LoadError{File: path, Err: err}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks numeric ranges and required fields, failing fast on the
// first violation.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return NewValidationError("server", "listen_addr", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	d := &cfg.Defaults
	if d.DefaultMaxIterations < 1 {
		return NewValidationError("session_defaults", "default_max_iterations",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, d.DefaultMaxIterations))
	}
	if d.MaxPromptChars < 1000 {
		return NewValidationError("session_defaults", "max_prompt_chars",
			fmt.Errorf("%w: must be >= 1000, got %d", ErrInvalidValue, d.MaxPromptChars))
	}
	if d.MaxDraftChars < 1000 {
		return NewValidationError("session_defaults", "max_draft_chars",
			fmt.Errorf("%w: must be >= 1000, got %d", ErrInvalidValue, d.MaxDraftChars))
	}
	if d.ContextTurnsToSend < 1 {
		return NewValidationError("session_defaults", "context_turns_to_send",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, d.ContextTurnsToSend))
	}
	if cfg.Providers.RequestTimeoutSeconds < 1 {
		return NewValidationError("providers", "request_timeout_seconds",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Providers.RequestTimeoutSeconds))
	}
	if cfg.Providers.MaxRetries < 0 {
		return NewValidationError("providers", "max_retries",
			fmt.Errorf("%w: must be >= 0, got %d", ErrInvalidValue, cfg.Providers.MaxRetries))
	}
	if cfg.PersistenceEnabled() && cfg.Persistence.ConnectionString == "" {
		return NewValidationError("persistence", "connection_string",
			fmt.Errorf("%w: required when persistence is enabled", ErrInvalidValue))
	}
	if cfg.RateLimit.PermitLimit > 0 && cfg.RateLimit.WindowSeconds < 1 {
		return NewValidationError("rate_limit", "window_seconds",
			fmt.Errorf("%w: must be >= 1 when permit_limit is set, got %d", ErrInvalidValue, cfg.RateLimit.WindowSeconds))
	}
	if cfg.Hub.SubscriberBuffer < 1 {
		return NewValidationError("hub", "subscriber_buffer",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Hub.SubscriberBuffer))
	}
	if cfg.Hub.WriteTimeoutSeconds < 1 {
		return NewValidationError("hub", "write_timeout_seconds",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Hub.WriteTimeoutSeconds))
	}
	if cfg.Credentials.IdentityPath == "" {
		return NewValidationError("credentials", "identity_path",
			fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}
