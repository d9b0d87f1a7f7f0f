package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyLapsed    PolicyStatus = "lapsed"
	PolicyCancelled PolicyStatus = "cancelled"
)

func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyActive, PolicyLapsed, PolicyCancelled:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// Policy is an insurance contract owned by a cell captive.
type Policy struct {
	ID                 uuid.UUID    `json:"id"`
	PolicyNumber       string       `json:"policy_number"`
	CellCaptiveID      uuid.UUID    `json:"cell_captive_id"`
	ClientName         string       `json:"client_name"`
	ClientEmail        *string      `json:"client_email,omitempty"`
	ClientPhone        *string      `json:"client_phone,omitempty"`
	PremiumAmount      Amount       `json:"premium_amount"`
	Frequency          Frequency    `json:"frequency"`
	Status             PolicyStatus `json:"status"`
	MandateReference   *string      `json:"mandate_reference,omitempty"`
	BankAccountNumber  *string      `json:"bank_account_number,omitempty"`
	BankBranchCode     *string      `json:"bank_branch_code,omitempty"`
	BankAccountType    *string      `json:"bank_account_type,omitempty"`
	NextCollectionDate *time.Time   `json:"next_collection_date,omitempty"`
	GracePeriodDays    int          `json:"grace_period_days"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// PolicyUpsertRequest is the webhook body for POST /policies/update.
// Optional fields left nil are not touched on update. PremiumAmount is
// kept raw so numbers and numeric strings both reach validation.
type PolicyUpsertRequest struct {
	PolicyNumber       string          `json:"policy_number"`
	ClientName         *string         `json:"client_name"`
	ClientEmail        *string         `json:"client_email"`
	ClientPhone        *string         `json:"client_phone"`
	PremiumAmount      json.RawMessage `json:"premium_amount"`
	Frequency          *string         `json:"frequency"`
	Status             *string         `json:"status"`
	MandateReference   *string         `json:"mandate_reference"`
	BankAccountNumber  *string         `json:"bank_account_number"`
	BankBranchCode     *string         `json:"bank_branch_code"`
	BankAccountType    *string         `json:"bank_account_type"`
	NextCollectionDate *string         `json:"next_collection_date"`
}

// PolicyPatch is the validated, typed form of a PolicyUpsertRequest.
type PolicyPatch struct {
	ClientName         *string
	ClientEmail        *string
	ClientPhone        *string
	PremiumAmount      *Amount
	Frequency          *Frequency
	Status             *PolicyStatus
	MandateReference   *string
	BankAccountNumber  *string
	BankBranchCode     *string
	BankAccountType    *string
	NextCollectionDate *time.Time
}

func (p PolicyPatch) Empty() bool {
	return p.ClientName == nil && p.ClientEmail == nil && p.ClientPhone == nil &&
		p.PremiumAmount == nil && p.Frequency == nil && p.Status == nil &&
		p.MandateReference == nil && p.BankAccountNumber == nil &&
		p.BankBranchCode == nil && p.BankAccountType == nil && p.NextCollectionDate == nil
}

// Apply copies the set fields onto p.
func (p PolicyPatch) Apply(pol *Policy) {
	if p.ClientName != nil {
		pol.ClientName = *p.ClientName
	}
	if p.ClientEmail != nil {
		pol.ClientEmail = p.ClientEmail
	}
	if p.ClientPhone != nil {
		pol.ClientPhone = p.ClientPhone
	}
	if p.PremiumAmount != nil {
		pol.PremiumAmount = *p.PremiumAmount
	}
	if p.Frequency != nil {
		pol.Frequency = *p.Frequency
	}
	if p.Status != nil {
		pol.Status = *p.Status
	}
	if p.MandateReference != nil {
		pol.MandateReference = p.MandateReference
	}
	if p.BankAccountNumber != nil {
		pol.BankAccountNumber = p.BankAccountNumber
	}
	if p.BankBranchCode != nil {
		pol.BankBranchCode = p.BankBranchCode
	}
	if p.BankAccountType != nil {
		pol.BankAccountType = p.BankAccountType
	}
	if p.NextCollectionDate != nil {
		pol.NextCollectionDate = p.NextCollectionDate
	}
}

// PolicyFilter for tenant policy listings
type PolicyFilter struct {
	CellCaptiveID uuid.UUID
	Status        string
	Search        string
	Page          Page
}
