package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/credentials"
	"github.com/parleyhq/parley/pkg/models"
)

// modelRequest is the request body for adding or updating a roster entry.
// On update an empty api_key leaves the stored key unchanged.
type modelRequest struct {
	ModelName   string              `json:"model_name"`
	DisplayName string              `json:"display_name"`
	Endpoint    string              `json:"endpoint"`
	Provider    models.ProviderKind `json:"provider"`
	APIKey      string              `json:"api_key"`
}

func (r *modelRequest) input() credentials.ModelInput {
	return credentials.ModelInput{
		ModelName:   r.ModelName,
		DisplayName: r.DisplayName,
		Endpoint:    r.Endpoint,
		Provider:    r.Provider,
		APIKey:      r.APIKey,
	}
}

// modelResponse is a roster entry as returned to clients. Key material is
// never echoed; has_key only reports whether one is stored.
type modelResponse struct {
	ID          string              `json:"id"`
	ModelName   string              `json:"model_name"`
	DisplayName string              `json:"display_name,omitempty"`
	Endpoint    string              `json:"endpoint"`
	Provider    models.ProviderKind `json:"provider"`
	HasKey      bool                `json:"has_key"`
}

func toModelResponse(m *models.ConfiguredModel) modelResponse {
	return modelResponse{
		ID:          m.ID,
		ModelName:   m.ModelName,
		DisplayName: m.DisplayName,
		Endpoint:    m.Endpoint,
		Provider:    m.Provider,
		HasKey:      m.EncryptedKey != "",
	}
}

// listModelsHandler handles GET /api/v1/models.
func (s *Server) listModelsHandler(c *gin.Context) {
	roster, err := s.store.List(c.Request.Context(), identityFor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]modelResponse, 0, len(roster))
	for i := range roster {
		out = append(out, toModelResponse(&roster[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// createModelHandler handles POST /api/v1/models.
func (s *Server) createModelHandler(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.store.Add(c.Request.Context(), identityFor(c), req.input())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toModelResponse(created))
}

// updateModelHandler handles PUT /api/v1/models/:name.
func (s *Server) updateModelHandler(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := s.store.Update(c.Request.Context(), identityFor(c), c.Param("name"), req.input())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toModelResponse(updated))
}

// deleteModelHandler handles DELETE /api/v1/models/:name.
func (s *Server) deleteModelHandler(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), identityFor(c), c.Param("name")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
