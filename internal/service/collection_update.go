package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/metrics"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// Update sources, used as a metrics label.
const (
	SourceWebhook    = "webhook"
	SourceCaptiveAPI = "captive_api"
	SourceStaff      = "staff"
)

// CollectionUpdateService applies sparse state updates to collections.
//
// Every update runs resolve, transition check, patch and reconciliation
// upsert in one transaction. The audit entry is written after commit; the
// caller then records its webhook log and calls AnnounceUpdate, so a live
// subscriber that re-reads the API after an event sees committed state.
type CollectionUpdateService struct {
	store     Store
	resolver  *CollectionResolver
	audit     *AuditService
	publisher Publisher
	maxBatch  int
	now       func() time.Time
}

func NewCollectionUpdateService(store Store, resolver *CollectionResolver, audit *AuditService, publisher Publisher, maxBatch int) *CollectionUpdateService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &CollectionUpdateService{
		store:     store,
		resolver:  resolver,
		audit:     audit,
		publisher: publisher,
		maxBatch:  maxBatch,
		now:       time.Now,
	}
}

// appliedUpdate is one committed item; before is nil for created rows.
type appliedUpdate struct {
	result *models.UpdateResult
	before *models.Collection
}

// Update validates and applies one webhook item for a tenant. Items with a
// collection_reference update an existing row; items with only a
// policy_number may create one.
func (s *CollectionUpdateService) Update(ctx context.Context, captiveID uuid.UUID, req models.CollectionUpdateRequest, meta models.RequestMeta, source string) (*models.UpdateResult, error) {
	v, err := validateUpdate(req)
	if err != nil {
		return nil, err
	}

	var applied *appliedUpdate
	err = s.store.WithTx(ctx, func(q Querier) error {
		var err error
		applied, err = s.applyOne(ctx, q, captiveID, v)
		return err
	})
	if err != nil {
		return nil, asAppError(err, apperr.CodeUpdateFailed)
	}

	s.committed(ctx, applied, meta, source)
	return applied.result, nil
}

// UpdateByReference is the captive API form of Update: the reference comes
// from the path and never creates a row.
func (s *CollectionUpdateService) UpdateByReference(ctx context.Context, captiveID uuid.UUID, reference string, req models.CollectionUpdateRequest, meta models.RequestMeta) (*models.UpdateResult, error) {
	req.CollectionReference = reference
	req.PolicyNumber = ""
	return s.Update(ctx, captiveID, req, meta, SourceCaptiveAPI)
}

// UpdateStatus is the staff status change. It follows the same transition
// and processed_at rules, is not tenant scoped, and announces itself.
func (s *CollectionUpdateService) UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string, meta models.RequestMeta) (*models.Collection, error) {
	st := models.CollectionStatus(status)
	if !st.Valid() {
		return nil, apperr.BadRequest(apperr.CodeInvalidStatus, fmt.Sprintf("Invalid status %q", status))
	}
	patch := models.CollectionPatch{Status: &st, FailureReason: failureReason}

	var before, after models.Collection
	err := s.store.WithTx(ctx, func(q Querier) error {
		c, err := q.GetCollection(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound(apperr.CodeCollectionNotFound, "Collection not found")
			}
			return err
		}
		before = *c
		if err := checkTransition(c, patch.Status); err != nil {
			return err
		}
		patch.Apply(c, s.now())
		if err := q.UpdateCollection(ctx, c); err != nil {
			return err
		}
		after = *c
		return nil
	})
	if err != nil {
		return nil, asAppError(err, apperr.CodeUpdateFailed)
	}

	metrics.CollectionUpdates.WithLabelValues(SourceStaff, string(after.Status)).Inc()
	s.audit.Record(ctx, collectionAudit(&before, &after, meta))
	s.publisher.Publish(EventCollectionStatusUpdated, map[string]interface{}{
		"id":                   after.ID,
		"collection_reference": after.CollectionReference,
		"status":               after.Status,
		"previous_status":      before.Status,
		"cell_captive_id":      after.CellCaptiveID,
	}, ChannelCollections)
	return &after, nil
}

// AnnounceUpdate broadcasts a committed update.
func (s *CollectionUpdateService) AnnounceUpdate(res *models.UpdateResult) {
	if res == nil || res.Collection == nil {
		return
	}
	c := res.Collection
	s.publisher.Publish(EventCollectionUpdated, map[string]interface{}{
		"id":                   c.ID,
		"collection_reference": c.CollectionReference,
		"cell_captive_id":      c.CellCaptiveID,
		"status":               c.Status,
		"amount":               c.Amount,
		"created":              res.Created,
		"reconciled":           res.Reconciliation != nil,
	}, ChannelCollections)
}

func (s *CollectionUpdateService) applyOne(ctx context.Context, q Querier, captiveID uuid.UUID, v *validatedUpdate) (*appliedUpdate, error) {
	var (
		c       *models.Collection
		before  *models.Collection
		created bool
		err     error
	)
	if v.reference != "" {
		c, err = s.resolver.ResolveExisting(ctx, q, captiveID, v.reference)
	} else {
		c, created, err = s.resolver.ResolveOrCreate(ctx, q, captiveID, v.policyNumber, v.collectionDate, v.patch)
	}
	if err != nil {
		return nil, err
	}

	if !created {
		snapshot := *c
		before = &snapshot
		if err := checkTransition(c, v.patch.Status); err != nil {
			return nil, err
		}
		v.patch.Apply(c, s.now())
		if err := q.UpdateCollection(ctx, c); err != nil {
			return nil, err
		}
	}

	res := &models.UpdateResult{Collection: c, Created: created}
	if c.Status == models.StatusSuccessful && (v.patch.InvestecReference != nil || v.patch.BankReference != nil) {
		rec, err := s.reconcile(ctx, q, c, v.patch)
		if err != nil {
			return nil, err
		}
		res.Reconciliation = rec
	}
	return &appliedUpdate{result: res, before: before}, nil
}

func (s *CollectionUpdateService) reconcile(ctx context.Context, q Querier, c *models.Collection, patch models.CollectionPatch) (*models.Reconciliation, error) {
	now := s.now()
	txDate := c.CollectionDate
	if patch.TransactionDate != nil {
		txDate = *patch.TransactionDate
	}
	investec := patch.InvestecReference
	if investec == nil {
		investec = c.InvestecReference
	}
	rec := &models.Reconciliation{
		CollectionID:      c.ID,
		InvestecReference: investec,
		BankReference:     patch.BankReference,
		Amount:            c.Amount,
		TransactionDate:   &txDate,
		Status:            models.ReconMatched,
		ReconciledAt:      &now,
	}
	if err := q.UpsertReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	metrics.ReconciliationUpserts.Inc()
	return rec, nil
}

// committed runs the post-commit bookkeeping for one item.
func (s *CollectionUpdateService) committed(ctx context.Context, a *appliedUpdate, meta models.RequestMeta, source string) {
	c := a.result.Collection
	metrics.CollectionUpdates.WithLabelValues(source, string(c.Status)).Inc()
	s.audit.Record(ctx, collectionAudit(a.before, c, meta))
	logger.FromContext(ctx).Info("collection updated",
		zap.String("collection_reference", c.CollectionReference),
		zap.String("status", string(c.Status)),
		zap.Bool("created", a.result.Created),
		zap.String("source", source))
}

// checkTransition rejects moving a successful collection to any other
// status. Replays of the same status and non-status corrections pass.
func checkTransition(c *models.Collection, next *models.CollectionStatus) error {
	if next == nil || *next == c.Status {
		return nil
	}
	if c.Status == models.StatusSuccessful {
		return apperr.Conflict(apperr.CodeInvalidTransition,
			fmt.Sprintf("Collection %s is already successful and cannot move to %s", c.CollectionReference, *next))
	}
	return nil
}

func collectionAudit(before, after *models.Collection, meta models.RequestMeta) *models.AuditEntry {
	e := &models.AuditEntry{
		TableName: "collections",
		RecordID:  after.ID,
		Action:    models.AuditUpdate,
		NewValues: models.ToJSONMap(after),
		ChangedBy: meta.UserID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if before == nil {
		e.Action = models.AuditInsert
	} else {
		e.OldValues = models.ToJSONMap(before)
	}
	return e
}

// asAppError passes business errors through and hides everything else
// behind an internal error with code.
func asAppError(err error, code string) error {
	if ae, ok := apperr.As(err); ok {
		return ae
	}
	return apperr.Internal(code, err)
}
