package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// PolicyService upserts policies pushed by a tenant's administration
// system.
type PolicyService struct {
	store     Store
	audit     *AuditService
	publisher Publisher
}

func NewPolicyService(store Store, audit *AuditService, publisher Publisher) *PolicyService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &PolicyService{store: store, audit: audit, publisher: publisher}
}

// PolicyUpsertResult reports the stored policy and whether it was new.
type PolicyUpsertResult struct {
	Policy  *models.Policy `json:"policy"`
	Created bool           `json:"created"`
}

// Upsert creates or updates the tenant's policy keyed by policy_number.
func (s *PolicyService) Upsert(ctx context.Context, captiveID uuid.UUID, req models.PolicyUpsertRequest, meta models.RequestMeta) (*PolicyUpsertResult, error) {
	number := strings.TrimSpace(req.PolicyNumber)
	if number == "" {
		return nil, apperr.BadRequest(apperr.CodeMissingPolicyNumber, "policy_number is required")
	}
	patch, err := validatePolicyPatch(req)
	if err != nil {
		return nil, err
	}

	var (
		before *models.Policy
		result PolicyUpsertResult
	)
	err = s.store.WithTx(ctx, func(q Querier) error {
		existing, err := q.GetPolicyByNumber(ctx, number)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			p, err := newPolicy(captiveID, number, patch)
			if err != nil {
				return err
			}
			if err := q.CreatePolicy(ctx, p); err != nil {
				return err
			}
			result = PolicyUpsertResult{Policy: p, Created: true}
			return nil
		case err != nil:
			return err
		}

		if existing.CellCaptiveID != captiveID {
			return apperr.Conflict(apperr.CodePolicyNumberConflict,
				fmt.Sprintf("Policy number %s belongs to another cell captive", number))
		}
		if patch.Empty() {
			return apperr.BadRequest(apperr.CodeNoUpdateFields, "No valid fields to update")
		}
		snapshot := *existing
		before = &snapshot
		patch.Apply(existing)
		if err := q.UpdatePolicy(ctx, existing); err != nil {
			return err
		}
		result = PolicyUpsertResult{Policy: existing}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict(apperr.CodePolicyNumberConflict,
				fmt.Sprintf("Policy number %s already exists", number))
		}
		return nil, asAppError(err, apperr.CodeUpdateFailed)
	}

	entry := &models.AuditEntry{
		TableName: "policies",
		RecordID:  result.Policy.ID,
		Action:    models.AuditInsert,
		NewValues: models.ToJSONMap(result.Policy),
		ChangedBy: meta.UserID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if before != nil {
		entry.Action = models.AuditUpdate
		entry.OldValues = models.ToJSONMap(before)
	}
	s.audit.Record(ctx, entry)
	return &result, nil
}

// AnnouncePolicy broadcasts a committed upsert.
func (s *PolicyService) AnnouncePolicy(res *PolicyUpsertResult) {
	if res == nil || res.Policy == nil {
		return
	}
	s.publisher.Publish(EventPolicyUpdated, map[string]interface{}{
		"id":              res.Policy.ID,
		"policy_number":   res.Policy.PolicyNumber,
		"cell_captive_id": res.Policy.CellCaptiveID,
		"status":          res.Policy.Status,
		"created":         res.Created,
	}, ChannelPolicies)
}

// List returns a tenant's policies.
func (s *PolicyService) List(ctx context.Context, f models.PolicyFilter) ([]*models.Policy, models.Pagination, error) {
	policies, total, err := s.store.ListPolicies(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, apperr.Internal(apperr.CodeInternal, err)
	}
	if policies == nil {
		policies = []*models.Policy{}
	}
	return policies, models.NewPagination(f.Page, total), nil
}

func validatePolicyPatch(req models.PolicyUpsertRequest) (models.PolicyPatch, error) {
	patch := models.PolicyPatch{
		ClientName:        trimmed(req.ClientName),
		ClientEmail:       req.ClientEmail,
		ClientPhone:       req.ClientPhone,
		MandateReference:  req.MandateReference,
		BankAccountNumber: req.BankAccountNumber,
		BankBranchCode:    req.BankBranchCode,
		BankAccountType:   req.BankAccountType,
	}

	if req.Status != nil {
		st := models.PolicyStatus(*req.Status)
		if !st.Valid() {
			return patch, apperr.BadRequest(apperr.CodeInvalidPolicyStatus,
				fmt.Sprintf("Invalid policy status %q; expected active, lapsed or cancelled", *req.Status))
		}
		patch.Status = &st
	}
	if req.Frequency != nil {
		f := models.Frequency(*req.Frequency)
		if !f.Valid() {
			return patch, apperr.BadRequest(apperr.CodeInvalidFrequency,
				fmt.Sprintf("Invalid frequency %q; expected monthly, quarterly or annually", *req.Frequency))
		}
		patch.Frequency = &f
	}

	amount, err := parseRawAmount(req.PremiumAmount)
	if err != nil {
		return patch, apperr.BadRequest(apperr.CodeInvalidAmount, "premium_amount must be a positive number with at most two decimal places, no larger than 9999999999.99")
	}
	patch.PremiumAmount = amount

	if req.NextCollectionDate != nil {
		d, err := parseDate(*req.NextCollectionDate)
		if err != nil {
			return patch, apperr.BadRequest(apperr.CodeInvalidDate, "next_collection_date must be YYYY-MM-DD")
		}
		patch.NextCollectionDate = &d
	}
	return patch, nil
}

func newPolicy(captiveID uuid.UUID, number string, patch models.PolicyPatch) (*models.Policy, error) {
	if patch.ClientName == nil || *patch.ClientName == "" || patch.PremiumAmount == nil {
		return nil, apperr.BadRequest(apperr.CodeMissingRequired,
			"client_name and premium_amount are required for a new policy")
	}
	p := &models.Policy{
		PolicyNumber:  number,
		CellCaptiveID: captiveID,
		Frequency:     models.FrequencyMonthly,
		Status:        models.PolicyActive,
	}
	patch.Apply(p)
	return p, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
