// Parley orchestrator server — provides the HTTP API, streams deliberation
// events over WebSocket, and runs Creator/Reviewer sessions to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/credentials"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/services"
	"github.com/parleyhq/parley/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("PARLEY_CONFIG", "parley.yaml"),
		"Path to configuration file")
	envPath := flag.String("env-file",
		getEnv("PARLEY_ENV_FILE", ".env"),
		"Path to .env file with secrets referenced by the config")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	slog.Info("Starting Parley",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the database and apply schema migration. Persistence off
	// means an in-memory store that lives for the process lifetime.
	connString := cfg.Persistence.ConnectionString
	if !cfg.PersistenceEnabled() {
		connString = ""
		slog.Warn("Persistence disabled, sessions will not survive restarts")
	}
	dbClient, err := database.NewClient(ctx, database.Config{
		ConnectionString: connString,
	})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()

	// 3. Credential sealing and the model roster store
	protector, err := credentials.NewAgeProtector(cfg.Credentials.IdentityPath)
	if err != nil {
		slog.Error("Failed to initialize credential protector", "error", err)
		os.Exit(1)
	}
	store := credentials.NewStore(dbClient.Gorm(), protector)

	// 4. Domain services
	sessions := services.NewSessionService(dbClient.Gorm())
	messages := services.NewMessageService(dbClient.Gorm())
	feedback := services.NewFeedbackService(dbClient.Gorm())
	settings := services.NewSettingsService(dbClient.Gorm())
	slog.Info("Services initialized")

	// 5. Event hub and WebSocket bridge
	hub := events.NewHub(cfg.Hub.SubscriberBuffer)
	publisher := events.NewPublisher(hub)
	connManager := events.NewConnectionManager(hub, cfg.Hub.WriteTimeout())

	// 6. Provider router and the session runner
	router := provider.NewRouter(store, provider.Limits{
		IdleTimeout: cfg.Providers.RequestTimeout(),
		MaxRetries:  cfg.Providers.MaxRetries,
	})
	prompts := orchestrator.NewPromptBuilder(
		cfg.Defaults.ContextTurnsToSend,
		cfg.Defaults.MaxPromptChars,
		cfg.Defaults.MaxDraftChars,
	)
	runner := orchestrator.NewRunner(sessions, messages, feedback, router, publisher, prompts)

	// 7. HTTP server
	srv := api.NewServer(dbClient, sessions, messages, feedback, store, runner,
		publisher, connManager, api.Config{
			SessionDefaults: services.SessionDefaults{
				MaxIterations:          cfg.Defaults.DefaultMaxIterations,
				StopMarker:             cfg.Defaults.DefaultStopMarker,
				StopOnReviewerApproved: cfg.Defaults.StopOnApproved(),
			},
			DefaultCreatorModel:  cfg.Defaults.DefaultCreatorModel,
			DefaultReviewerModel: cfg.Defaults.DefaultReviewerModel,
			RateLimitPermits:     cfg.RateLimit.PermitLimit,
			RateLimitWindow:      cfg.RateLimit.Window(),
		})
	srv.SetSettingsService(settings)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then stop active
	// sessions so their partial output is persisted before the DB closes.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	runner.Shutdown()
	slog.Info("Shutdown complete")
}
