package history

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"license-server/internal/apperr"
	"license-server/internal/auth"
)

// Handlers serves the account history endpoint
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// List returns the caller's aggregated history
// GET /account/history
func (h *Handlers) List(c *gin.Context) {
	user := auth.CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, auth.ErrUnauthorized)
		return
	}

	entries, err := h.service.List(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// RegisterRoutes mounts the history endpoint on the authenticated group
func (h *Handlers) RegisterRoutes(protected gin.IRoutes) {
	protected.GET("/account/history", h.List)
}
