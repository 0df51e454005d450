package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/pastebin-lite/config"
)

// WebUIHandler handles web interface
type WebUIHandler struct {
	config *config.Config
}

// NewWebUIHandler creates a new web UI handler
func NewWebUIHandler(config *config.Config) *WebUIHandler {
	return &WebUIHandler{
		config: config,
	}
}

// Index renders the paste form via GET / and GET /api/pastes
func (h *WebUIHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":      "Pastebin Lite",
		"BaseURL":    baseURL(c, h.config),
		"Version":    h.config.Version,
		"BuildTime":  h.config.BuildTime,
		"CommitHash": h.config.CommitHash,
	})
}
