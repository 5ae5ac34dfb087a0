package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/orchestrator"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Creator.ModelName == "" {
		req.Creator.ModelName = s.cfg.DefaultCreatorModel
	}
	for i := range req.Reviewers {
		if req.Reviewers[i].ModelName == "" {
			req.Reviewers[i].ModelName = s.cfg.DefaultReviewerModel
		}
	}

	sess, err := s.sessions.CreateSession(c.Request.Context(), identityFor(c), req, s.cfg.SessionDefaults)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions, err := s.sessions.ListSessions(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id. A running
// session is cancelled first; messages and feedback rounds cascade.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if s.runner.IsActive(sessionID) {
		if err := s.runner.Stop(c.Request.Context(), sessionID); err != nil {
			respondServiceError(c, err)
			return
		}
	}
	if err := s.sessions.DeleteSession(c.Request.Context(), sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// startSessionHandler handles POST /api/v1/sessions/:id/start.
func (s *Server) startSessionHandler(c *gin.Context) {
	s.startWithMode(c, models.RunModeAuto)
}

// stepSessionHandler handles POST /api/v1/sessions/:id/step: runs exactly
// one iteration, then the session pauses.
func (s *Server) stepSessionHandler(c *gin.Context) {
	s.startWithMode(c, models.RunModeStep)
}

func (s *Server) startWithMode(c *gin.Context, mode models.RunMode) {
	sessionID := c.Param("id")
	sess, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if missing := s.missingKeys(c, sess); missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": missing})
		return
	}
	if err := s.runner.Start(c.Request.Context(), sessionID, mode); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": models.StatusRunning})
}

// missingKeys checks every distinct model the session uses and returns the
// start-gate error message, or "" when all keys are present.
func (s *Server) missingKeys(c *gin.Context, sess *models.Session) string {
	modelSet := map[string]bool{sess.CreatorConfig.ModelName: true}
	for i := range sess.ReviewersConfig {
		modelSet[sess.ReviewersConfig[i].ModelName] = true
	}

	var missing []string
	for name := range modelSet {
		ok, err := s.store.HasKey(c.Request.Context(), sess.UserEmail, name)
		if err != nil || !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	sort.Strings(missing)
	return fmt.Sprintf("Missing API key(s) for models: %s", strings.Join(missing, ", "))
}

// stopSessionHandler handles POST /api/v1/sessions/:id/stop. Idempotent.
func (s *Server) stopSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.runner.Stop(c.Request.Context(), sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": models.StatusStopped})
}

// resetMemoryHandler handles POST /api/v1/sessions/:id/reset-memory/:personaId.
// Removes every message authored by the persona; session status and
// iteration counters are untouched.
func (s *Server) resetMemoryHandler(c *gin.Context) {
	sessionID := c.Param("id")
	personaID := c.Param("personaId")

	sess, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !personaExists(sess, personaID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown persona: " + personaID})
		return
	}

	deleted, err := s.messages.DeleteByAuthor(c.Request.Context(), sessionID, personaID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	_ = s.publisher.PersonaMemoryReset(sessionID, personaID)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func personaExists(sess *models.Session, personaID string) bool {
	if personaID == models.AuthorCreator {
		return true
	}
	for i := range sess.ReviewersConfig {
		if sess.ReviewersConfig[i].ID == personaID {
			return true
		}
	}
	return false
}

// listMessagesHandler handles GET /api/v1/sessions/:id/messages.
func (s *Server) listMessagesHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	msgs, err := s.messages.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// listFeedbackRoundsHandler handles GET /api/v1/sessions/:id/feedback-rounds.
func (s *Server) listFeedbackRoundsHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	rounds, err := s.feedback.ListRounds(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback_rounds": rounds})
}

// attachFeedbackHandler handles POST /api/v1/sessions/:id/feedback.
func (s *Server) attachFeedbackHandler(c *gin.Context) {
	var req models.AttachFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.feedback.AttachUserFeedback(c.Request.Context(), c.Param("id"), req.Iteration, req.Feedback); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// iterateWithFeedbackHandler handles POST /api/v1/sessions/:id/iterate-with-feedback.
// Re-opens a completed session for up to three additional iterations guided
// by the user's comments.
func (s *Server) iterateWithFeedbackHandler(c *gin.Context) {
	sessionID := c.Param("id")

	var req models.IterateWithFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if missing := s.missingKeys(c, sess); missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": missing})
		return
	}

	instruction := orchestrator.SynthesizeInstruction(&req)
	reopened, err := s.sessions.ReopenWithFeedback(c.Request.Context(), sessionID, instruction, req.MaxAdditionalIterations)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := s.runner.Resume(sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, reopened)
}
