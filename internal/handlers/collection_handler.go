package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

// StaffCollections is the staff view across all cell captives.
type StaffCollections interface {
	ListCollections(ctx context.Context, f models.CollectionFilter) ([]*models.CollectionView, models.Pagination, error)
	ListReconciliations(ctx context.Context, f models.ReconciliationFilter) ([]*models.ReconciliationView, models.Pagination, error)
	CollectionStats(ctx context.Context, f models.CollectionStatsFilter) (*models.CollectionStats, error)
	CreateAdhoc(ctx context.Context, captiveID uuid.UUID, req models.CreateCollectionRequest, meta models.RequestMeta) (*models.Collection, error)
}

// StatusUpdater applies staff status changes.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string, meta models.RequestMeta) (*models.Collection, error)
}

// CollectionHandler serves /api/collections and /api/reconciliation.
type CollectionHandler struct {
	queries StaffCollections
	updates StatusUpdater
}

func NewCollectionHandler(queries StaffCollections, updates StatusUpdater) *CollectionHandler {
	return &CollectionHandler{queries: queries, updates: updates}
}

// staffCreateRequest names the tenant the captive API takes from its key.
type staffCreateRequest struct {
	CellCaptiveID uuid.UUID `json:"cell_captive_id"`
	models.CreateCollectionRequest
}

type statusRequest struct {
	Status        string  `json:"status" binding:"required"`
	FailureReason *string `json:"failure_reason"`
}

func (h *CollectionHandler) List(c *gin.Context) {
	f, err := collectionFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if raw := c.Query("cell_captive_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, badRequest("cell_captive_id must be a UUID"))
			return
		}
		f.CellCaptiveID = &id
	}
	out, page, err := h.queries.ListCollections(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(out, page))
}

// Create handles POST /api/collections
func (h *CollectionHandler) Create(c *gin.Context) {
	var req staffCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("cell_captive_id and policy_number are required"))
		return
	}
	if req.CellCaptiveID == uuid.Nil {
		respondError(c, badRequest("cell_captive_id is required"))
		return
	}
	col, err := h.queries.CreateAdhoc(c.Request.Context(), req.CellCaptiveID, req.CreateCollectionRequest, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": col, "message": "Collection created successfully"})
}

// Stats handles GET /api/collections/stats
func (h *CollectionHandler) Stats(c *gin.Context) {
	var f models.CollectionStatsFilter
	if raw := c.Query("cell_captive_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, badRequest("cell_captive_id must be a UUID"))
			return
		}
		f.CellCaptiveID = &id
	}
	var err error
	if f.DateFrom, err = queryDate(c, "date_from"); err != nil {
		respondError(c, err)
		return
	}
	if f.DateTo, err = queryDate(c, "date_to"); err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.queries.CollectionStats(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// UpdateStatus handles PATCH /api/collections/:id/status
func (h *CollectionHandler) UpdateStatus(c *gin.Context) {
	id, err := paramUUID(c, "id", apperr.CodeCollectionNotFound, "Collection")
	if err != nil {
		respondError(c, err)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("status is required"))
		return
	}
	col, err := h.updates.UpdateStatus(c.Request.Context(), id, req.Status, req.FailureReason, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": col, "message": "Collection status updated"})
}

// Reconciliations handles GET /api/reconciliation
func (h *CollectionHandler) Reconciliations(c *gin.Context) {
	out, page, err := h.queries.ListReconciliations(c.Request.Context(), models.ReconciliationFilter{
		Status: c.Query("status"),
		Page:   parsePage(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(out, page))
}
