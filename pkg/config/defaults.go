package config

// Default returns the built-in configuration. Load merges these under the
// user's YAML, so any field the file omits takes the value here.
func Default() *Config {
	enabled := true
	stopOnApproved := true
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Defaults: SessionYAMLConfig{
			DefaultMaxIterations:   4,
			DefaultStopMarker:      "FINAL:",
			StopOnReviewerApproved: &stopOnApproved,
			MaxPromptChars:         48000,
			MaxDraftChars:          24000,
			ContextTurnsToSend:     8,
		},
		Providers: ProviderConfig{
			RequestTimeoutSeconds: 300,
			MaxRetries:            3,
		},
		Persistence: PersistenceConfig{
			Enabled:          &enabled,
			ConnectionString: "parley.db",
		},
		RateLimit: RateLimitConfig{
			PermitLimit:   20,
			WindowSeconds: 60,
		},
		Hub: HubConfig{
			SubscriberBuffer:    256,
			WriteTimeoutSeconds: 10,
		},
		Credentials: CredentialsConfig{
			IdentityPath: "parley-identity.txt",
		},
	}
}
