package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"license-server/internal/apperr"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Login handles login with auto-registration
// POST /auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BindError(c, err)
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me returns the authenticated user
// GET /me
func (h *Handlers) Me(c *gin.Context) {
	user := CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(user))
}

// CheckUsername reports username availability
// GET /auth/check-username/:name
func (h *Handlers) CheckUsername(c *gin.Context) {
	available, err := h.service.CheckUsername(c.Request.Context(), c.Param("name"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

// ChangePassword handles password change
// POST /auth/change-password
func (h *Handlers) ChangePassword(c *gin.Context) {
	user := CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BindError(c, err)
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), user, req); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

// ChangeUsername handles a rename and returns a token for the new name
// POST /auth/change-username
func (h *Handlers) ChangeUsername(c *gin.Context) {
	user := CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, ErrUnauthorized)
		return
	}

	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BindError(c, err)
		return
	}

	resp, err := h.service.ChangeUsername(c.Request.Context(), user, req.NewUsername)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteAccount removes the caller's account
// DELETE /auth/delete-account
func (h *Handlers) DeleteAccount(c *gin.Context) {
	user := CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, ErrUnauthorized)
		return
	}

	var req DeleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.BindError(c, err)
		return
	}

	removed, err := h.service.DeleteAccount(c.Request.Context(), user, req.Password)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":          "Account deleted successfully",
		"licenses_deleted": removed,
	})
}

// Subscribe upgrades the caller to premium
// POST /subscribe
func (h *Handlers) Subscribe(c *gin.Context) {
	user := CurrentUserFrom(c)
	if user == nil {
		apperr.Respond(c, ErrUnauthorized)
		return
	}

	if err := h.service.Subscribe(c.Request.Context(), user); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Subscription activated",
		"is_premium": true,
	})
}

// ListUsers lists every user
// GET /users
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// CountUsers returns the user count
// GET /users/count
func (h *Handlers) CountUsers(c *gin.Context) {
	n, err := h.service.CountUsers(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// RegisterRoutes mounts the auth endpoints. protected must already carry
// the auth middleware.
func (h *Handlers) RegisterRoutes(public, protected gin.IRoutes) {
	public.POST("/auth/login", h.Login)
	public.GET("/auth/check-username/:name", h.CheckUsername)
	public.GET("/users/count", h.CountUsers)

	protected.GET("/me", h.Me)
	protected.GET("/users", h.ListUsers)
	protected.POST("/auth/change-password", h.ChangePassword)
	protected.POST("/auth/change-username", h.ChangeUsername)
	protected.DELETE("/auth/delete-account", h.DeleteAccount)
	protected.POST("/subscribe", h.Subscribe)
}
