package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

// CollectionQueryService serves the read side of collections,
// reconciliation and webhook logs, plus manual ad-hoc collections.
type CollectionQueryService struct {
	store     Store
	resolver  *CollectionResolver
	audit     *AuditService
	publisher Publisher
}

func NewCollectionQueryService(store Store, resolver *CollectionResolver, audit *AuditService, publisher Publisher) *CollectionQueryService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &CollectionQueryService{store: store, resolver: resolver, audit: audit, publisher: publisher}
}

func (s *CollectionQueryService) ListCollections(ctx context.Context, f models.CollectionFilter) ([]*models.CollectionView, models.Pagination, error) {
	out, total, err := s.store.ListCollections(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, apperr.Internal(apperr.CodeInternal, err)
	}
	if out == nil {
		out = []*models.CollectionView{}
	}
	return out, models.NewPagination(f.Page, total), nil
}

func (s *CollectionQueryService) ListReconciliations(ctx context.Context, f models.ReconciliationFilter) ([]*models.ReconciliationView, models.Pagination, error) {
	out, total, err := s.store.ListReconciliations(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, apperr.Internal(apperr.CodeInternal, err)
	}
	if out == nil {
		out = []*models.ReconciliationView{}
	}
	return out, models.NewPagination(f.Page, total), nil
}

func (s *CollectionQueryService) ListWebhookLogs(ctx context.Context, f models.WebhookLogFilter) ([]*models.WebhookLog, models.Pagination, error) {
	if f.Status != "" && f.Status != "success" && f.Status != "error" {
		return nil, models.Pagination{}, apperr.BadRequest(apperr.CodeInvalidRequest, "status must be success or error")
	}
	out, total, err := s.store.ListWebhookLogs(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, apperr.Internal(apperr.CodeInternal, err)
	}
	if out == nil {
		out = []*models.WebhookLog{}
	}
	return out, models.NewPagination(f.Page, total), nil
}

// CollectionStats aggregates collections for the staff dashboard.
func (s *CollectionQueryService) CollectionStats(ctx context.Context, f models.CollectionStatsFilter) (*models.CollectionStats, error) {
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, apperr.BadRequest(apperr.CodeInvalidDate, "date_to must not be before date_from")
	}
	cs, err := s.store.CollectionStats(ctx, f)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	cs.SuccessRatePct = models.RatePercent(cs.Successful, cs.Successful+cs.Failed)
	return cs, nil
}

// CreateAdhoc inserts a manual collection for an active tenant policy.
func (s *CollectionQueryService) CreateAdhoc(ctx context.Context, captiveID uuid.UUID, req models.CreateCollectionRequest, meta models.RequestMeta) (*models.Collection, error) {
	number := strings.TrimSpace(req.PolicyNumber)
	if number == "" {
		return nil, apperr.BadRequest(apperr.CodeMissingPolicyNumber, "policy_number is required")
	}
	ctype := models.CollectionAdhoc
	if req.CollectionType != "" {
		ctype = models.CollectionType(req.CollectionType)
		if !ctype.Valid() {
			return nil, apperr.BadRequest(apperr.CodeInvalidCollType, "collection_type must be recurring or adhoc")
		}
	}
	if req.Amount != nil && (!req.Amount.IsPositive() || req.Amount.GreaterThan(models.MaxAmount)) {
		return nil, apperr.BadRequest(apperr.CodeInvalidAmount, "Amount must be positive and no larger than 9999999999.99")
	}
	day := s.resolver.today()
	if req.CollectionDate != "" {
		d, err := parseDate(req.CollectionDate)
		if err != nil {
			return nil, apperr.BadRequest(apperr.CodeInvalidDate, "collection_date must be YYYY-MM-DD")
		}
		day = d
	}

	var c *models.Collection
	err := s.store.WithTx(ctx, func(q Querier) error {
		policy, err := lockTenantPolicy(ctx, q, captiveID, number)
		if err != nil {
			return err
		}
		if policy.Status != models.PolicyActive {
			return apperr.BadRequest(apperr.CodePolicyInactive,
				fmt.Sprintf("Policy %s is %s; collections require an active policy", number, policy.Status))
		}
		ref, err := newCollectionReference(time.Now())
		if err != nil {
			return err
		}
		c = &models.Collection{
			CollectionReference: ref,
			PolicyID:            policy.ID,
			CellCaptiveID:       policy.CellCaptiveID,
			CollectionType:      ctype,
			Amount:              policy.PremiumAmount,
			CollectionDate:      day,
			Status:              models.StatusPending,
			CreatedBy:           meta.UserID,
		}
		if req.Amount != nil {
			c.Amount = models.NewAmount(req.Amount.Decimal)
		}
		return q.CreateCollection(ctx, c)
	})
	if err != nil {
		return nil, asAppError(err, apperr.CodeInternal)
	}

	s.audit.Record(ctx, collectionAudit(nil, c, meta))
	s.publisher.Publish(EventCollectionCreated, map[string]interface{}{
		"id":                   c.ID,
		"collection_reference": c.CollectionReference,
		"cell_captive_id":      c.CellCaptiveID,
		"amount":               c.Amount,
		"status":               c.Status,
	}, ChannelCollections)
	return c, nil
}
