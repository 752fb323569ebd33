package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobportal/identity/internal/token"
	apperrors "github.com/jobportal/identity/pkg/errors"
	"github.com/jobportal/identity/pkg/response"
)

// ClaimsKey is the gin context key holding verified *token.Claims
const ClaimsKey = "claims"

// Handler handles authentication HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new authentication handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Login handles email/password login
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Register handles account creation
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			response.ValidationError(c, verr.Error())
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// Refresh rotates a refresh token
// POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Logout revokes the caller's refresh token
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}

// Me returns the authenticated user's profile
// GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrNotAuthenticated)
		return
	}

	profile, err := h.service.CurrentUser(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user": profile,
	})
}

// Area serves a role-restricted landing resource. Access control happens in
// middleware before this runs.
func (h *Handler) Area(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			response.Error(c, apperrors.ErrNotAuthenticated)
			return
		}

		response.Success(c, http.StatusOK, gin.H{
			"area":    name,
			"user_id": claims.Subject,
			"role":    claims.Role,
		})
	}
}

// Health returns health status
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// ClaimsFrom returns the claims stored by the auth middleware
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok && claims != nil
}

func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ValidationError(c, "invalid request body")
		return false
	}
	if err := Validate(req); err != nil {
		response.ValidationError(c, err.Error())
		return false
	}
	return true
}
