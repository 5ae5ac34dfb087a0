package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 4, cfg.Defaults.DefaultMaxIterations)
	assert.Equal(t, "FINAL:", cfg.Defaults.DefaultStopMarker)
	assert.True(t, cfg.Defaults.StopOnApproved())
	assert.True(t, cfg.PersistenceEnabled())
	assert.Equal(t, 300*time.Second, cfg.Providers.RequestTimeout())
}

func TestLoad_UserValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9999"
session_defaults:
  default_max_iterations: 7
  default_stop_marker: "DONE:"
providers:
  max_retries: 5
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 7, cfg.Defaults.DefaultMaxIterations)
	assert.Equal(t, "DONE:", cfg.Defaults.DefaultStopMarker)
	assert.Equal(t, 5, cfg.Providers.MaxRetries)
	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Hub.SubscriberBuffer)
	assert.Equal(t, 20, cfg.RateLimit.PermitLimit)
}

func TestLoad_ExplicitFalseSurvivesMerge(t *testing.T) {
	path := writeConfig(t, `
session_defaults:
  stop_on_reviewer_approved: false
persistence:
  enabled: false
  connection_string: ""
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.False(t, cfg.Defaults.StopOnApproved())
	assert.False(t, cfg.PersistenceEnabled())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_DSN", "postgres://db.internal:5432/parley")

	path := writeConfig(t, `
persistence:
  connection_string: "{{.PARLEY_TEST_DSN}}"
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/parley", cfg.Persistence.ConnectionString)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidate_Violations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		section string
		field   string
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }, "server", "listen_addr"},
		{"zero iterations", func(c *Config) { c.Defaults.DefaultMaxIterations = 0 }, "session_defaults", "default_max_iterations"},
		{"tiny prompt limit", func(c *Config) { c.Defaults.MaxPromptChars = 10 }, "session_defaults", "max_prompt_chars"},
		{"zero timeout", func(c *Config) { c.Providers.RequestTimeoutSeconds = 0 }, "providers", "request_timeout_seconds"},
		{"missing dsn", func(c *Config) { c.Persistence.ConnectionString = "" }, "persistence", "connection_string"},
		{"zero hub buffer", func(c *Config) { c.Hub.SubscriberBuffer = 0 }, "hub", "subscriber_buffer"},
		{"empty identity path", func(c *Config) { c.Credentials.IdentityPath = "" }, "credentials", "identity_path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := Validate(cfg)

			require.Error(t, err)
			var validErr *ValidationError
			require.ErrorAs(t, err, &validErr)
			assert.Equal(t, tc.section, validErr.Section)
			assert.Equal(t, tc.field, validErr.Field)
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}
