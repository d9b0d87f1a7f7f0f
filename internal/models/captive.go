package models

import (
	"time"

	"github.com/google/uuid"
)

// CellCaptive is a tenant: an insurance-program partner whose policies,
// collections and API keys are siloed by ownership.
type CellCaptive struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	ContactEmail *string   `json:"contact_email,omitempty"`
	ContactPhone *string   `json:"contact_phone,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CaptiveSummary is a cell captive with its policy and collection counters.
type CaptiveSummary struct {
	CellCaptive
	PolicyCount           int    `json:"policy_count"`
	ActivePolicies        int    `json:"active_policies"`
	TotalCollections      int    `json:"total_collections"`
	SuccessfulCollections int    `json:"successful_collections"`
	FailedCollections     int    `json:"failed_collections"`
	PendingCollections    int    `json:"pending_collections"`
	APIKeyCount           int    `json:"api_key_count"`
	TotalCollected        Amount `json:"total_collected"`
}

// CaptiveDependents counts the rows that block deleting a captive.
type CaptiveDependents struct {
	Policies    int `json:"policies"`
	Collections int `json:"collections"`
	APIKeys     int `json:"api_keys"`
}

func (d CaptiveDependents) Any() bool {
	return d.Policies > 0 || d.Collections > 0 || d.APIKeys > 0
}

// CaptivePatch holds the staff-editable captive fields; nil means unchanged.
type CaptivePatch struct {
	Name         *string `json:"name"`
	ContactEmail *string `json:"contact_email"`
	ContactPhone *string `json:"contact_phone"`
	IsActive     *bool   `json:"is_active"`
}

func (p CaptivePatch) Empty() bool {
	return p.Name == nil && p.ContactEmail == nil && p.ContactPhone == nil && p.IsActive == nil
}

// CaptiveFilter for listing cell captives
type CaptiveFilter struct {
	Search   string
	IsActive *bool
	Page     Page
}
