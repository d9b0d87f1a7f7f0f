package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/tenant"
)

// CaptiveReader serves a tenant's own summary and statistics.
type CaptiveReader interface {
	Info(ctx context.Context, captiveID uuid.UUID) (*models.CaptiveSummary, error)
	Statistics(ctx context.Context, captiveID uuid.UUID) (*models.CaptiveStatistics, error)
}

// PolicyLister lists a tenant's policies.
type PolicyLister interface {
	List(ctx context.Context, f models.PolicyFilter) ([]*models.Policy, models.Pagination, error)
}

// CollectionQuerier lists collections and creates manual ones.
type CollectionQuerier interface {
	ListCollections(ctx context.Context, f models.CollectionFilter) ([]*models.CollectionView, models.Pagination, error)
	CreateAdhoc(ctx context.Context, captiveID uuid.UUID, req models.CreateCollectionRequest, meta models.RequestMeta) (*models.Collection, error)
}

// ReferenceUpdater updates one collection addressed by reference.
type ReferenceUpdater interface {
	UpdateByReference(ctx context.Context, captiveID uuid.UUID, reference string, req models.CollectionUpdateRequest, meta models.RequestMeta) (*models.UpdateResult, error)
	AnnounceUpdate(res *models.UpdateResult)
}

// CaptiveAPIHandler serves /api/captive for API key holders. Every query is
// scoped to the key's cell captive.
type CaptiveAPIHandler struct {
	captives    CaptiveReader
	policies    PolicyLister
	collections CollectionQuerier
	updates     ReferenceUpdater
}

func NewCaptiveAPIHandler(captives CaptiveReader, policies PolicyLister, collections CollectionQuerier, updates ReferenceUpdater) *CaptiveAPIHandler {
	return &CaptiveAPIHandler{captives: captives, policies: policies, collections: collections, updates: updates}
}

func captiveID(c *gin.Context) (uuid.UUID, bool) {
	id, err := tenant.GetTenantID(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Unauthorized(apperr.CodeMissingAPIKey, "API key required"))
		return uuid.Nil, false
	}
	return id, true
}

// Info handles GET /api/captive/info.
func (h *CaptiveAPIHandler) Info(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	info, err := h.captives.Info(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": info})
}

// Policies handles GET /api/captive/policies.
func (h *CaptiveAPIHandler) Policies(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	policies, page, err := h.policies.List(c.Request.Context(), models.PolicyFilter{
		CellCaptiveID: id,
		Status:        c.Query("status"),
		Search:        c.Query("search"),
		Page:          parsePage(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(policies, page))
}

// Collections handles GET /api/captive/collections.
func (h *CaptiveAPIHandler) Collections(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	f, err := collectionFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	f.CellCaptiveID = &id

	out, page, err := h.collections.ListCollections(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(out, page))
}

// CreateCollection handles POST /api/captive/collections.
func (h *CaptiveAPIHandler) CreateCollection(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	var req models.CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("policy_number is required"))
		return
	}
	col, err := h.collections.CreateAdhoc(c.Request.Context(), id, req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": col, "message": "Collection created successfully"})
}

// UpdateCollection handles PATCH /api/captive/collections/:reference.
func (h *CaptiveAPIHandler) UpdateCollection(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	var req models.CollectionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, badRequest("Request body must be a JSON object"))
		return
	}

	res, err := h.updates.UpdateByReference(c.Request.Context(), id, c.Param("reference"), req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res, "message": "Collection updated successfully"})
	h.updates.AnnounceUpdate(res)
}

// Statistics handles GET /api/captive/statistics.
func (h *CaptiveAPIHandler) Statistics(c *gin.Context) {
	id, ok := captiveID(c)
	if !ok {
		return
	}
	stats, err := h.captives.Statistics(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// collectionFilter reads the shared collection list query parameters.
func collectionFilter(c *gin.Context) (models.CollectionFilter, error) {
	f := models.CollectionFilter{
		Status:         c.Query("status"),
		CollectionType: c.Query("collection_type"),
		PolicyNumber:   c.Query("policy_number"),
		Page:           parsePage(c),
	}
	var err error
	if f.DateFrom, err = queryDate(c, "date_from"); err != nil {
		return f, err
	}
	if f.DateTo, err = queryDate(c, "date_to"); err != nil {
		return f, err
	}
	return f, nil
}
