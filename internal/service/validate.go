package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

// validatedUpdate is a webhook item after validation.
type validatedUpdate struct {
	reference      string
	policyNumber   string
	collectionDate *time.Time
	patch          models.CollectionPatch
}

// validateUpdate checks an item before anything is written. The checks run
// in a fixed order so the reported code is deterministic.
func validateUpdate(req models.CollectionUpdateRequest) (*validatedUpdate, error) {
	if req.CollectionReference == "" && req.PolicyNumber == "" {
		return nil, apperr.BadRequest(apperr.CodeMissingIdentifier,
			"Either collection_reference or policy_number is required")
	}

	v := &validatedUpdate{reference: req.CollectionReference, policyNumber: req.PolicyNumber}

	if req.Status != nil {
		status := models.CollectionStatus(*req.Status)
		if !status.Valid() {
			return nil, apperr.BadRequest(apperr.CodeInvalidStatus,
				fmt.Sprintf("Invalid status %q; expected pending, submitted, successful, failed or cancelled", *req.Status))
		}
		v.patch.Status = &status
	}

	amount, err := parseRawAmount(req.Amount)
	if err != nil {
		return nil, apperr.BadRequest(apperr.CodeInvalidAmount, "Amount must be a positive number with at most two decimal places, no larger than 9999999999.99")
	}
	v.patch.Amount = amount

	if req.CollectionDate != "" {
		d, err := parseDate(req.CollectionDate)
		if err != nil {
			return nil, apperr.BadRequest(apperr.CodeInvalidDate, "collection_date must be YYYY-MM-DD")
		}
		v.collectionDate = &d
	}
	if req.TransactionDate != "" {
		d, err := parseDate(req.TransactionDate)
		if err != nil {
			return nil, apperr.BadRequest(apperr.CodeInvalidDate, "transaction_date must be YYYY-MM-DD")
		}
		v.patch.TransactionDate = &d
	}

	v.patch.FailureReason = req.FailureReason
	v.patch.InvestecReference = req.InvestecReference
	v.patch.BankReference = req.BankReference

	if !v.patch.HasUpdateFields() {
		return nil, apperr.BadRequest(apperr.CodeNoUpdateFields,
			"No valid fields to update; provide status, amount, failure_reason or investec_reference")
	}
	return v, nil
}

// parseRawAmount accepts a JSON number or numeric string; absent or null
// means no change.
func parseRawAmount(raw json.RawMessage) (*models.Amount, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
	}
	a, err := models.ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(models.DateLayout, s)
}
