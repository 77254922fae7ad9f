package license

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"license-server/internal/apperr"
	"license-server/internal/auth"
)

// Handlers contains the license HTTP handlers
type Handlers struct {
	engine *Engine
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Generate creates licenses from query parameters or a JSON body
// POST /licenses/generate
func (h *Handlers) Generate(c *gin.Context) {
	user := auth.CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, auth.ErrUnauthorized)
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		apperr.BindError(c, err)
		return
	}
	// a JSON body overrides query values
	if c.Request.ContentLength > 0 && c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BindError(c, err)
			return
		}
	}

	resp, err := h.engine.Generate(c.Request.Context(), user, req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List returns the caller's licenses
// GET /licenses/list
func (h *Handlers) List(c *gin.Context) {
	user := auth.CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, auth.ErrUnauthorized)
		return
	}

	licenses, err := h.engine.List(c.Request.Context(), user)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, licenses)
}

// Delete removes one of the caller's licenses
// DELETE /licenses/delete?license_key=
func (h *Handlers) Delete(c *gin.Context) {
	user := auth.CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, auth.ErrUnauthorized)
		return
	}

	if err := h.engine.Delete(c.Request.Context(), user, c.Query("license_key")); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "License deleted successfully"})
}

// Validate checks a license key
// GET /licenses/validate?license_key=
func (h *Handlers) Validate(c *gin.Context) {
	result, err := h.engine.Validate(c.Request.Context(), c.Query("license_key"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RegisterRoutes mounts the license endpoints
func (h *Handlers) RegisterRoutes(public, protected gin.IRoutes) {
	public.GET("/licenses/validate", h.Validate)

	protected.POST("/licenses/generate", h.Generate)
	protected.GET("/licenses/list", h.List)
	protected.DELETE("/licenses/delete", h.Delete)
}
