package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"license-server/internal/apperr"
)

// Handlers contains the stats HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Global returns the counters snapshot
// GET /stats/global
func (h *Handlers) Global(c *gin.Context) {
	snapshot, err := h.service.Read(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Update recomputes the derivable counters
// POST /stats/update
func (h *Handlers) Update(c *gin.Context) {
	snapshot, err := h.service.Recompute(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// RegisterRoutes mounts the stats endpoints
func (h *Handlers) RegisterRoutes(r gin.IRoutes) {
	r.GET("/stats/global", h.Global)
	r.POST("/stats/update", h.Update)
}
