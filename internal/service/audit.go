package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/metrics"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

const logWriteTimeout = 5 * time.Second

type auditWriter interface {
	InsertAudit(ctx context.Context, e *models.AuditEntry) error
}

// AuditService appends audit trail rows. A failed write is logged and
// counted, never returned: auditing must not undo a committed change.
type AuditService struct {
	store auditWriter
	log   *zap.Logger
}

func NewAuditService(store auditWriter) *AuditService {
	return &AuditService{store: store, log: logger.Named("audit")}
}

// Record writes one entry on a context detached from request cancellation.
func (s *AuditService) Record(ctx context.Context, e *models.AuditEntry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if err := s.store.InsertAudit(wctx, e); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("audit_trail").Inc()
		logger.FromContext(ctx).Error("failed to write audit entry",
			zap.String("table", e.TableName),
			zap.String("record_id", e.RecordID.String()),
			zap.String("action", string(e.Action)),
			zap.Error(err))
	}
}

type webhookLogWriter interface {
	InsertWebhookLog(ctx context.Context, l *models.WebhookLog) error
}

// WebhookLogService records inbound webhook calls with the same
// never-fail contract as AuditService.
type WebhookLogService struct {
	store webhookLogWriter
}

func NewWebhookLogService(store webhookLogWriter) *WebhookLogService {
	return &WebhookLogService{store: store}
}

func (s *WebhookLogService) Record(ctx context.Context, l *models.WebhookLog) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if err := s.store.InsertWebhookLog(wctx, l); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("webhook_log").Inc()
		logger.FromContext(ctx).Error("failed to write webhook log",
			zap.String("endpoint", l.Endpoint),
			zap.Int("status", l.ResponseStatus),
			zap.Error(err))
	}
}

// RedactHeaders copies request headers for logging, masking credentials.
func RedactHeaders(h map[string][]string) models.JSONMap {
	out := make(models.JSONMap, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "authorization", "cookie", "x-api-key":
			out[k] = "[REDACTED]"
		default:
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}
