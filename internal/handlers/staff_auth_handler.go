package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/tenant"
)

// Sessions logs staff in, resolves the current account and creates new ones.
type Sessions interface {
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	Me(ctx context.Context, claims *auth.Claims) (*models.User, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
}

// StaffAuthHandler serves /api/auth.
type StaffAuthHandler struct {
	sessions Sessions
}

func NewStaffAuthHandler(sessions Sessions) *StaffAuthHandler {
	return &StaffAuthHandler{sessions: sessions}
}

// Login handles POST /api/auth/login
func (h *StaffAuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("email and password are required"))
		return
	}
	token, user, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me handles GET /api/auth/me
func (h *StaffAuthHandler) Me(c *gin.Context) {
	claims, err := tenant.GetStaff(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Unauthorized(apperr.CodeMissingToken, "Authentication required"))
		return
	}
	user, err := h.sessions.Me(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Register handles POST /api/auth/register
func (h *StaffAuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("email, password, first_name and last_name are required"))
		return
	}
	user, err := h.sessions.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"user": user}, "message": "User created successfully"})
}
