// Package api exposes the HTTP surface: session lifecycle verbs, the
// per-user model roster, health, and the WebSocket upgrade endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/credentials"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/services"
)

// Config carries the HTTP-layer knobs.
type Config struct {
	// SessionDefaults fill the fields a create request omits.
	SessionDefaults services.SessionDefaults

	// DefaultCreatorModel and DefaultReviewerModel fill persona model names
	// a create request leaves empty. Optional.
	DefaultCreatorModel  string
	DefaultReviewerModel string

	// RateLimitPermits is the number of mutating requests allowed per
	// identity per RateLimitWindow. Zero disables rate limiting.
	RateLimitPermits int
	RateLimitWindow  time.Duration
}

// Server wires the service layer to the HTTP routes.
type Server struct {
	dbClient    *database.Client
	sessions    *services.SessionService
	messages    *services.MessageService
	feedback    *services.FeedbackService
	store       *credentials.Store
	runner      *orchestrator.Runner
	publisher   *events.Publisher
	connManager *events.ConnectionManager
	settings    *services.SettingsService
	cfg         Config

	limiter *identityLimiter
}

// NewServer creates the API server.
func NewServer(
	dbClient *database.Client,
	sessions *services.SessionService,
	messages *services.MessageService,
	feedback *services.FeedbackService,
	store *credentials.Store,
	runner *orchestrator.Runner,
	publisher *events.Publisher,
	connManager *events.ConnectionManager,
	cfg Config,
) *Server {
	s := &Server{
		dbClient:    dbClient,
		sessions:    sessions,
		messages:    messages,
		feedback:    feedback,
		store:       store,
		runner:      runner,
		publisher:   publisher,
		connManager: connManager,
		cfg:         cfg,
	}
	if cfg.RateLimitPermits > 0 {
		s.limiter = newIdentityLimiter(cfg.RateLimitPermits, cfg.RateLimitWindow)
	}
	return s
}

// SetSettingsService wires the optional per-user preferences endpoints.
func (s *Server) SetSettingsService(settings *services.SettingsService) {
	s.settings = settings
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(securityHeaders())
	if s.limiter != nil {
		r.Use(s.limiter.middleware())
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.healthHandler)
		v1.GET("/ws", s.wsHandler)

		v1.POST("/sessions", s.createSessionHandler)
		v1.GET("/sessions", s.listSessionsHandler)
		v1.GET("/sessions/:id", s.getSessionHandler)
		v1.DELETE("/sessions/:id", s.deleteSessionHandler)
		v1.POST("/sessions/:id/start", s.startSessionHandler)
		v1.POST("/sessions/:id/step", s.stepSessionHandler)
		v1.POST("/sessions/:id/stop", s.stopSessionHandler)
		v1.POST("/sessions/:id/reset-memory/:personaId", s.resetMemoryHandler)
		v1.GET("/sessions/:id/messages", s.listMessagesHandler)
		v1.GET("/sessions/:id/feedback-rounds", s.listFeedbackRoundsHandler)
		v1.POST("/sessions/:id/feedback", s.attachFeedbackHandler)
		v1.POST("/sessions/:id/iterate-with-feedback", s.iterateWithFeedbackHandler)

		v1.GET("/models", s.listModelsHandler)
		v1.POST("/models", s.createModelHandler)
		v1.PUT("/models/:name", s.updateModelHandler)
		v1.DELETE("/models/:name", s.deleteModelHandler)

		if s.settings != nil {
			v1.GET("/settings", s.getSettingsHandler)
			v1.PUT("/settings", s.updateSettingsHandler)
		}
	}
	return r
}
