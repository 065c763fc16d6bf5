package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stash/internal/settings"
)

func (s *Server) currentServices() settings.Services {
	return settings.Services{
		RenderBaseURL: s.Render.BaseURL(),
		AssetsBaseURL: s.Assets.BaseURL(),
	}
}

func (s *Server) getServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services":      s.currentServices(),
		"renderEnabled": s.Render.Enabled(),
		"assetsEnabled": s.Assets.Enabled(),
	})
}

// updateServices persists new endpoints for the external services and
// applies them to the running clients.
func (s *Server) updateServices(c *gin.Context) {
	var req settings.Services
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := settings.SaveServices(c.Request.Context(), s.DB, req); err != nil {
		s.Log.WithError(err).Error("save service settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db update failed"})
		return
	}
	s.Render.Configure(req.RenderBaseURL, req.RenderAPIKey)
	s.Assets.Configure(req.AssetsBaseURL, req.AssetsAPIKey)

	c.JSON(http.StatusOK, gin.H{
		"services":      s.currentServices(),
		"renderEnabled": s.Render.Enabled(),
		"assetsEnabled": s.Assets.Enabled(),
	})
}
