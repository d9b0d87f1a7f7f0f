package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/service"
)

// CaptiveManager is the staff view of cell captives.
type CaptiveManager interface {
	List(ctx context.Context, f models.CaptiveFilter) ([]*models.CaptiveSummary, models.Pagination, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CaptiveSummary, error)
	Create(ctx context.Context, req service.CreateCaptiveRequest, meta models.RequestMeta) (*models.CellCaptive, error)
	Update(ctx context.Context, id uuid.UUID, patch models.CaptivePatch, meta models.RequestMeta) (*models.CellCaptive, error)
	Delete(ctx context.Context, id uuid.UUID, meta models.RequestMeta) error
	Statistics(ctx context.Context, id uuid.UUID) (*models.CaptiveStatistics, error)
}

// CellCaptiveHandler serves /api/cell-captives.
type CellCaptiveHandler struct {
	captives CaptiveManager
}

func NewCellCaptiveHandler(captives CaptiveManager) *CellCaptiveHandler {
	return &CellCaptiveHandler{captives: captives}
}

func (h *CellCaptiveHandler) List(c *gin.Context) {
	out, page, err := h.captives.List(c.Request.Context(), models.CaptiveFilter{
		Search:   c.Query("search"),
		IsActive: queryBool(c, "is_active"),
		Page:     parsePage(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(out, page))
}

func (h *CellCaptiveHandler) Get(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCaptiveNotFound, "Cell captive")
	if err != nil {
		respondError(c, err)
		return
	}
	cc, err := h.captives.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cc})
}

func (h *CellCaptiveHandler) Create(c *gin.Context) {
	var req service.CreateCaptiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("name and code are required"))
		return
	}
	cc, err := h.captives.Create(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": cc, "message": "Cell captive created successfully"})
}

func (h *CellCaptiveHandler) Update(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCaptiveNotFound, "Cell captive")
	if err != nil {
		respondError(c, err)
		return
	}
	var patch models.CaptivePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, badRequest("Invalid request body"))
		return
	}
	cc, err := h.captives.Update(c.Request.Context(), id, patch, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cc, "message": "Cell captive updated successfully"})
}

func (h *CellCaptiveHandler) Delete(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCaptiveNotFound, "Cell captive")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.captives.Delete(c.Request.Context(), id, requestMeta(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cell captive deleted successfully"})
}

// Stats handles GET /api/cell-captives/:id/stats
func (h *CellCaptiveHandler) Stats(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCaptiveNotFound, "Cell captive")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.captives.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.captives.Statistics(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
