package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

var captiveCodePattern = regexp.MustCompile(`^[A-Z0-9_]{3,50}$`)

// CaptiveService manages cell captives for staff and serves the tenant's
// own info and statistics.
type CaptiveService struct {
	store     Store
	audit     *AuditService
	publisher Publisher
}

func NewCaptiveService(store Store, audit *AuditService, publisher Publisher) *CaptiveService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &CaptiveService{store: store, audit: audit, publisher: publisher}
}

// CreateCaptiveRequest is the staff body for a new cell captive.
type CreateCaptiveRequest struct {
	Name         string  `json:"name" binding:"required"`
	Code         string  `json:"code" binding:"required"`
	ContactEmail *string `json:"contact_email"`
	ContactPhone *string `json:"contact_phone"`
}

func (s *CaptiveService) List(ctx context.Context, f models.CaptiveFilter) ([]*models.CaptiveSummary, models.Pagination, error) {
	out, total, err := s.store.ListCaptives(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, apperr.Internal(apperr.CodeInternal, err)
	}
	if out == nil {
		out = []*models.CaptiveSummary{}
	}
	return out, models.NewPagination(f.Page, total), nil
}

// Get returns a captive with its counters.
func (s *CaptiveService) Get(ctx context.Context, id uuid.UUID) (*models.CaptiveSummary, error) {
	cc, err := s.store.GetCaptiveSummary(ctx, id)
	if err != nil {
		return nil, captiveErr(err)
	}
	return cc, nil
}

func (s *CaptiveService) Create(ctx context.Context, req CreateCaptiveRequest, meta models.RequestMeta) (*models.CellCaptive, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !captiveCodePattern.MatchString(code) {
		return nil, apperr.BadRequest(apperr.CodeInvalidRequest, "code must be 3-50 characters of A-Z, 0-9 or _")
	}
	cc := &models.CellCaptive{
		Name:         strings.TrimSpace(req.Name),
		Code:         code,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		IsActive:     true,
	}
	if err := s.store.CreateCaptive(ctx, cc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict(apperr.CodeCaptiveCodeExists, "A cell captive with this code already exists")
		}
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}

	s.audit.Record(ctx, captiveAudit(models.AuditInsert, nil, cc, meta))
	s.publisher.Publish(EventCaptiveChanged, map[string]interface{}{"action": "created", "cell_captive": cc}, ChannelCaptives)
	return cc, nil
}

func (s *CaptiveService) Update(ctx context.Context, id uuid.UUID, patch models.CaptivePatch, meta models.RequestMeta) (*models.CellCaptive, error) {
	if patch.Empty() {
		return nil, apperr.BadRequest(apperr.CodeNoUpdateFields, "No valid fields to update")
	}

	var before, after models.CellCaptive
	err := s.store.WithTx(ctx, func(q Querier) error {
		cc, err := q.GetCaptive(ctx, id)
		if err != nil {
			return err
		}
		before = *cc
		if patch.Name != nil {
			cc.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.ContactEmail != nil {
			cc.ContactEmail = patch.ContactEmail
		}
		if patch.ContactPhone != nil {
			cc.ContactPhone = patch.ContactPhone
		}
		if patch.IsActive != nil {
			cc.IsActive = *patch.IsActive
		}
		if err := q.UpdateCaptive(ctx, cc); err != nil {
			return err
		}
		after = *cc
		return nil
	})
	if err != nil {
		return nil, captiveErr(err)
	}

	s.audit.Record(ctx, captiveAudit(models.AuditUpdate, &before, &after, meta))
	s.publisher.Publish(EventCaptiveChanged, map[string]interface{}{"action": "updated", "cell_captive": after}, ChannelCaptives)
	return &after, nil
}

// Delete removes a captive that nothing references.
func (s *CaptiveService) Delete(ctx context.Context, id uuid.UUID, meta models.RequestMeta) error {
	var before models.CellCaptive
	err := s.store.WithTx(ctx, func(q Querier) error {
		cc, err := q.GetCaptive(ctx, id)
		if err != nil {
			return err
		}
		before = *cc
		deps, err := q.CountCaptiveDependents(ctx, id)
		if err != nil {
			return err
		}
		if deps.Any() {
			return apperr.Conflict(apperr.CodeCaptiveHasDependents,
				"Cell captive has policies, collections or API keys and cannot be deleted").
				WithDetails(map[string]interface{}{"dependents": deps})
		}
		return q.DeleteCaptive(ctx, id)
	})
	if err != nil {
		return captiveErr(err)
	}

	s.audit.Record(ctx, captiveAudit(models.AuditDelete, &before, nil, meta))
	s.publisher.Publish(EventCaptiveChanged, map[string]interface{}{"action": "deleted", "id": id}, ChannelCaptives)
	return nil
}

// Info is the tenant's own summary for the captive API.
func (s *CaptiveService) Info(ctx context.Context, captiveID uuid.UUID) (*models.CaptiveSummary, error) {
	return s.Get(ctx, captiveID)
}

// Statistics aggregates a tenant's collections and policies.
func (s *CaptiveService) Statistics(ctx context.Context, captiveID uuid.UUID) (*models.CaptiveStatistics, error) {
	cs, err := s.store.CollectionStats(ctx, models.CollectionStatsFilter{CellCaptiveID: &captiveID})
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	ps, err := s.store.PolicyStats(ctx, captiveID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	trend, err := s.store.MonthlyTrend(ctx, captiveID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	if trend == nil {
		trend = []models.MonthlyTrend{}
	}
	cs.SuccessRatePct = models.RatePercent(cs.Successful, cs.Successful+cs.Failed)
	return &models.CaptiveStatistics{Collections: *cs, Policies: *ps, Trend: trend}, nil
}

func captiveAudit(action models.AuditAction, before, after *models.CellCaptive, meta models.RequestMeta) *models.AuditEntry {
	e := &models.AuditEntry{
		TableName: "cell_captives",
		Action:    action,
		ChangedBy: meta.UserID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if before != nil {
		e.RecordID = before.ID
		e.OldValues = models.ToJSONMap(before)
	}
	if after != nil {
		e.RecordID = after.ID
		e.NewValues = models.ToJSONMap(after)
	}
	return e
}

func captiveErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeCaptiveNotFound, "Cell captive not found")
	}
	return asAppError(err, apperr.CodeInternal)
}
