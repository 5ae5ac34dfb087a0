// Package config loads and validates the parley.yaml configuration file.
package config

import "time"

// Config is the complete application configuration. Fields left empty in
// the YAML file take the values from Default(); boolean options are
// pointers so an explicit `false` survives the defaults merge.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Defaults    SessionYAMLConfig `yaml:"session_defaults"`
	Providers   ProviderConfig    `yaml:"providers"`
	Persistence PersistenceConfig `yaml:"persistence"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Hub         HubConfig         `yaml:"hub"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SessionYAMLConfig holds the orchestration defaults applied to fields a
// session create request omits, plus the prompt-window bounds.
type SessionYAMLConfig struct {
	DefaultCreatorModel    string `yaml:"default_creator_model"`
	DefaultReviewerModel   string `yaml:"default_reviewer_model"`
	DefaultMaxIterations   int    `yaml:"default_max_iterations"`
	DefaultStopMarker      string `yaml:"default_stop_marker"`
	StopOnReviewerApproved *bool  `yaml:"stop_on_reviewer_approved"`
	MaxPromptChars         int    `yaml:"max_prompt_chars"`
	MaxDraftChars          int    `yaml:"max_draft_chars"`
	ContextTurnsToSend     int    `yaml:"context_turns_to_send"`
}

// ProviderConfig tunes outbound LLM streaming.
type ProviderConfig struct {
	// RequestTimeoutSeconds is the per-read idle timeout on streams: a
	// stream that produces nothing for this long is failed as stalled.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	// MaxRetries bounds connection attempts per streamed call.
	MaxRetries int `yaml:"max_retries"`
}

// PersistenceConfig selects the database backend.
type PersistenceConfig struct {
	// Enabled false runs on in-memory sqlite; state is lost on restart.
	Enabled *bool `yaml:"enabled"`
	// ConnectionString is a postgres DSN/URL or a sqlite file path.
	ConnectionString string `yaml:"connection_string"`
}

// RateLimitConfig caps mutating requests per identity. PermitLimit zero
// disables limiting.
type RateLimitConfig struct {
	PermitLimit   int `yaml:"permit_limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// HubConfig tunes the in-process event hub and its WebSocket bridge.
type HubConfig struct {
	SubscriberBuffer    int `yaml:"subscriber_buffer"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// CredentialsConfig locates the sealing identity for stored API keys.
type CredentialsConfig struct {
	IdentityPath string `yaml:"identity_path"`
}

// StopOnApproved resolves the pointer; nil means the default (true).
func (s *SessionYAMLConfig) StopOnApproved() bool {
	return s.StopOnReviewerApproved == nil || *s.StopOnReviewerApproved
}

// PersistenceEnabled resolves the pointer; nil means the default (true).
func (c *Config) PersistenceEnabled() bool {
	return c.Persistence.Enabled == nil || *c.Persistence.Enabled
}

// RequestTimeout returns the configured idle timeout as a duration.
func (p *ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// Window returns the rate-limit window as a duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// WriteTimeout returns the WebSocket write timeout as a duration.
func (h *HubConfig) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutSeconds) * time.Second
}
