package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

// APIKeyManager issues and revokes cell captive API keys.
type APIKeyManager interface {
	Generate(ctx context.Context, req models.CreateAPIKeyRequest, meta models.RequestMeta) (*models.GeneratedAPIKey, error)
	List(ctx context.Context, captiveID *uuid.UUID) ([]*models.APIKeyWithCaptive, error)
	Revoke(ctx context.Context, id uuid.UUID, meta models.RequestMeta) (*models.APIKey, error)
	Delete(ctx context.Context, id uuid.UUID, meta models.RequestMeta) error
}

// APIKeyManagementHandler serves /api/keys.
type APIKeyManagementHandler struct {
	keys APIKeyManager
}

func NewAPIKeyManagementHandler(keys APIKeyManager) *APIKeyManagementHandler {
	return &APIKeyManagementHandler{keys: keys}
}

// Generate handles POST /api/keys/generate. The token is only ever
// returned here.
func (h *APIKeyManagementHandler) Generate(c *gin.Context) {
	var req models.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("cell_captive_id and key_name are required"))
		return
	}
	key, err := h.keys.Generate(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"data":    key,
		"message": "API key generated. Store it now; it will not be shown again.",
	})
}

// List handles GET /api/keys
func (h *APIKeyManagementHandler) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

// ListForCaptive handles GET /api/keys/cell-captive/:id
func (h *APIKeyManagementHandler) ListForCaptive(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCaptiveNotFound, "Cell captive")
	if err != nil {
		respondError(c, err)
		return
	}
	keys, err := h.keys.List(c.Request.Context(), &id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

// Revoke handles PATCH /api/keys/:id/revoke
func (h *APIKeyManagementHandler) Revoke(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeAPIKeyNotFound, "API key")
	if err != nil {
		respondError(c, err)
		return
	}
	key, err := h.keys.Revoke(c.Request.Context(), id, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": key, "message": "API key revoked"})
}

// Delete handles DELETE /api/keys/:id
func (h *APIKeyManagementHandler) Delete(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeAPIKeyNotFound, "API key")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.keys.Delete(c.Request.Context(), id, requestMeta(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}
