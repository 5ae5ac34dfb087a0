package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type updateSettingsRequest struct {
	NativeAgentModelID *string `json:"native_agent_model_id"`
}

// getSettingsHandler returns the caller's preferences, an empty row when
// none have been saved yet.
func (s *Server) getSettingsHandler(c *gin.Context) {
	settings, err := s.settings.Get(c.Request.Context(), identityFor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateSettingsHandler upserts the caller's preferred model reference.
// A null model id clears the preference.
func (s *Server) updateSettingsHandler(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	identity := identityFor(c)
	if err := s.settings.SetNativeAgentModel(c.Request.Context(), identity, req.NativeAgentModelID); err != nil {
		respondServiceError(c, err)
		return
	}

	settings, err := s.settings.Get(c.Request.Context(), identity)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
