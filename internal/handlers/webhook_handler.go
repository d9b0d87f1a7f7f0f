package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/service"
	"github.com/premiumcollect/premiumcollect/internal/tenant"
)

const maxWebhookBody = 5 << 20

// CollectionUpdater applies webhook collection updates.
type CollectionUpdater interface {
	Update(ctx context.Context, captiveID uuid.UUID, req models.CollectionUpdateRequest, meta models.RequestMeta, source string) (*models.UpdateResult, error)
	BulkUpdate(ctx context.Context, captiveID uuid.UUID, items []models.CollectionUpdateRequest, meta models.RequestMeta) (*models.BulkResult, error)
	AnnounceUpdate(res *models.UpdateResult)
	AnnounceBulk(captiveID uuid.UUID, res *models.BulkResult)
}

// PolicyUpserter applies webhook policy upserts.
type PolicyUpserter interface {
	Upsert(ctx context.Context, captiveID uuid.UUID, req models.PolicyUpsertRequest, meta models.RequestMeta) (*service.PolicyUpsertResult, error)
	AnnouncePolicy(res *service.PolicyUpsertResult)
}

// WebhookLogLister serves a tenant's webhook history.
type WebhookLogLister interface {
	ListWebhookLogs(ctx context.Context, f models.WebhookLogFilter) ([]*models.WebhookLog, models.Pagination, error)
}

// WebhookRecorder persists one webhook call.
type WebhookRecorder interface {
	Record(ctx context.Context, l *models.WebhookLog)
}

// WebhookHandler serves /api/webhooks. Every mutating call is logged with
// its response after the change commits and before it is broadcast.
type WebhookHandler struct {
	updates  CollectionUpdater
	policies PolicyUpserter
	logs     WebhookLogLister
	recorder WebhookRecorder
}

func NewWebhookHandler(updates CollectionUpdater, policies PolicyUpserter, logs WebhookLogLister, recorder WebhookRecorder) *WebhookHandler {
	return &WebhookHandler{updates: updates, policies: policies, logs: logs, recorder: recorder}
}

// webhookCall carries what the webhook log needs across one request.
type webhookCall struct {
	start     time.Time
	captiveID uuid.UUID
	body      []byte
}

func (h *WebhookHandler) begin(c *gin.Context) (*webhookCall, error) {
	call := &webhookCall{start: time.Now()}
	captiveID, err := tenant.GetTenantID(c.Request.Context())
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeMissingAPIKey, "API key required")
	}
	call.captiveID = captiveID

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		return call, badRequest("Failed to read request body")
	}
	call.body = body
	return call, nil
}

// finish writes the webhook log and then the response.
func (h *WebhookHandler) finish(c *gin.Context, call *webhookCall, status int, resp interface{}) {
	out, err := json.Marshal(resp)
	if err != nil {
		status, resp = apperr.Render(apperr.Internal(apperr.CodeInternal, err))
		out, _ = json.Marshal(resp)
	}

	captiveID := call.captiveID
	h.recorder.Record(c.Request.Context(), &models.WebhookLog{
		CellCaptiveID:    &captiveID,
		Endpoint:         c.Request.URL.Path,
		Method:           c.Request.Method,
		Headers:          service.RedactHeaders(c.Request.Header),
		Payload:          payloadMap(call.body),
		ResponseStatus:   status,
		ResponseBody:     string(out),
		ProcessingTimeMs: time.Since(call.start).Milliseconds(),
	})

	c.Data(status, "application/json; charset=utf-8", out)
}

func (h *WebhookHandler) fail(c *gin.Context, call *webhookCall, err error) {
	_ = c.Error(err)
	status, body := apperr.Render(err)
	h.finish(c, call, status, body)
}

// payloadMap stores object bodies as-is and anything else under "raw".
func payloadMap(body []byte) models.JSONMap {
	var m models.JSONMap
	if err := json.Unmarshal(body, &m); err == nil && m != nil {
		return m
	}
	return models.JSONMap{"raw": string(body)}
}

// UpdateCollection handles POST /api/webhooks/collections/update.
func (h *WebhookHandler) UpdateCollection(c *gin.Context) {
	call, err := h.begin(c)
	if call == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		h.fail(c, call, err)
		return
	}

	var req models.CollectionUpdateRequest
	if err := json.Unmarshal(call.body, &req); err != nil {
		h.fail(c, call, badRequest("Request body must be a JSON object"))
		return
	}

	res, err := h.updates.Update(c.Request.Context(), call.captiveID, req, requestMeta(c), service.SourceWebhook)
	if err != nil {
		h.fail(c, call, err)
		return
	}

	msg := "Collection updated successfully"
	if res.Created {
		msg = "Collection created successfully"
	}
	h.finish(c, call, http.StatusOK, gin.H{"success": true, "data": res, "message": msg})
	h.updates.AnnounceUpdate(res)
}

// BulkUpdateCollections handles POST /api/webhooks/collections/bulk-update.
func (h *WebhookHandler) BulkUpdateCollections(c *gin.Context) {
	call, err := h.begin(c)
	if call == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		h.fail(c, call, err)
		return
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(call.body, &body); err != nil {
		h.fail(c, call, badRequest("Request body must be a JSON object"))
		return
	}
	var items []models.CollectionUpdateRequest
	raw, ok := body["collections"]
	if !ok || json.Unmarshal(raw, &items) != nil {
		h.fail(c, call, apperr.BadRequest(apperr.CodeInvalidCollections, "collections must be a non-empty array"))
		return
	}

	res, err := h.updates.BulkUpdate(c.Request.Context(), call.captiveID, items, requestMeta(c))
	if err != nil {
		if res == nil {
			h.fail(c, call, err)
			return
		}
		_ = c.Error(err)
		status, envelope := apperr.Render(err)
		envelope["success"] = false
		envelope["committed"] = res.Committed
		envelope["processed"] = res.Processed
		envelope["failed"] = res.Failed
		envelope["results"] = res.Results
		envelope["errors"] = res.Errors
		h.finish(c, call, status, envelope)
		return
	}

	h.finish(c, call, http.StatusOK, gin.H{
		"success":   true,
		"committed": res.Committed,
		"processed": res.Processed,
		"failed":    res.Failed,
		"results":   res.Results,
		"errors":    res.Errors,
		"message":   fmt.Sprintf("%d collections updated", res.Processed),
	})
	h.updates.AnnounceBulk(call.captiveID, res)
}

// UpsertPolicy handles POST /api/webhooks/policies/update.
func (h *WebhookHandler) UpsertPolicy(c *gin.Context) {
	call, err := h.begin(c)
	if call == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		h.fail(c, call, err)
		return
	}

	var req models.PolicyUpsertRequest
	if err := json.Unmarshal(call.body, &req); err != nil {
		h.fail(c, call, badRequest("Request body must be a JSON object"))
		return
	}

	res, err := h.policies.Upsert(c.Request.Context(), call.captiveID, req, requestMeta(c))
	if err != nil {
		h.fail(c, call, err)
		return
	}

	msg := "Policy updated successfully"
	if res.Created {
		msg = "Policy created successfully"
	}
	h.finish(c, call, http.StatusOK, gin.H{"success": true, "data": res.Policy, "created": res.Created, "message": msg})
	h.policies.AnnouncePolicy(res)
}

// ListLogs handles GET /api/webhooks/logs.
func (h *WebhookHandler) ListLogs(c *gin.Context) {
	captiveID, err := tenant.GetTenantID(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Unauthorized(apperr.CodeMissingAPIKey, "API key required"))
		return
	}

	logs, page, err := h.logs.ListWebhookLogs(c.Request.Context(), models.WebhookLogFilter{
		CellCaptiveID: captiveID,
		Status:        strings.ToLower(c.Query("status")),
		Endpoint:      c.Query("endpoint"),
		Page:          parsePage(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(logs, page))
}
