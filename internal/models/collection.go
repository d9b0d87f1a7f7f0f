package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

type CollectionStatus string

const (
	StatusPending    CollectionStatus = "pending"
	StatusSubmitted  CollectionStatus = "submitted"
	StatusSuccessful CollectionStatus = "successful"
	StatusFailed     CollectionStatus = "failed"
	StatusCancelled  CollectionStatus = "cancelled"
)

func (s CollectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusSuccessful, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses stamp processed_at on first entry.
func (s CollectionStatus) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

type CollectionType string

const (
	CollectionRecurring CollectionType = "recurring"
	CollectionAdhoc     CollectionType = "adhoc"
)

func (t CollectionType) Valid() bool {
	return t == CollectionRecurring || t == CollectionAdhoc
}

// Collection is a single attempt to collect a premium.
type Collection struct {
	ID                  uuid.UUID        `json:"id"`
	CollectionReference string           `json:"collection_reference"`
	PolicyID            uuid.UUID        `json:"policy_id"`
	CellCaptiveID       uuid.UUID        `json:"cell_captive_id"`
	CollectionType      CollectionType   `json:"collection_type"`
	Amount              Amount           `json:"amount"`
	CollectionDate      time.Time        `json:"collection_date"`
	Status              CollectionStatus `json:"status"`
	FailureReason       *string          `json:"failure_reason,omitempty"`
	RetryCount          int              `json:"retry_count"`
	MaxRetries          int              `json:"max_retries"`
	InvestecReference   *string          `json:"investec_reference,omitempty"`
	CreatedBy           *uuid.UUID       `json:"created_by,omitempty"`
	ApprovedBy          *uuid.UUID       `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time       `json:"approved_at,omitempty"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// CollectionView is a collection joined with its policy and reconciliation.
type CollectionView struct {
	Collection
	PolicyNumber         string  `json:"policy_number"`
	ClientName           string  `json:"client_name"`
	CaptiveName          string  `json:"captive_name,omitempty"`
	ReconciliationStatus *string `json:"reconciliation_status,omitempty"`
}

// CollectionUpdateRequest is one webhook update item. Amount is kept raw so
// both JSON numbers and numeric strings reach validation.
type CollectionUpdateRequest struct {
	CollectionReference string          `json:"collection_reference,omitempty"`
	PolicyNumber        string          `json:"policy_number,omitempty"`
	CollectionDate      string          `json:"collection_date,omitempty"`
	Status              *string         `json:"status,omitempty"`
	Amount              json.RawMessage `json:"amount,omitempty"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	InvestecReference   *string         `json:"investec_reference,omitempty"`
	BankReference       *string         `json:"bank_reference,omitempty"`
	TransactionDate     string          `json:"transaction_date,omitempty"`
}

// Identifier is the value used to report this item in errors.
func (r CollectionUpdateRequest) Identifier() string {
	if r.CollectionReference != "" {
		return r.CollectionReference
	}
	return r.PolicyNumber
}

// CollectionPatch is the validated sparse update. Nil fields are untouched.
type CollectionPatch struct {
	Status            *CollectionStatus
	Amount            *Amount
	FailureReason     *string
	InvestecReference *string

	// auxiliary, not update fields on their own
	BankReference   *string
	TransactionDate *time.Time
}

// HasUpdateFields reports whether any recognised field is set.
func (p CollectionPatch) HasUpdateFields() bool {
	return p.Status != nil || p.Amount != nil || p.FailureReason != nil || p.InvestecReference != nil
}

// Apply writes the patch onto c, stamping processed_at on the first
// terminal status.
func (p CollectionPatch) Apply(c *Collection, now time.Time) {
	if p.Status != nil {
		c.Status = *p.Status
		if c.Status.Terminal() && c.ProcessedAt == nil {
			t := now
			c.ProcessedAt = &t
		}
	}
	if p.Amount != nil {
		c.Amount = *p.Amount
	}
	if p.FailureReason != nil {
		c.FailureReason = p.FailureReason
	}
	if p.InvestecReference != nil {
		c.InvestecReference = p.InvestecReference
	}
}

// CreateCollectionRequest is the captive API body for a manual collection.
type CreateCollectionRequest struct {
	PolicyNumber   string  `json:"policy_number" binding:"required"`
	Amount         *Amount `json:"amount"`
	CollectionDate string  `json:"collection_date"`
	CollectionType string  `json:"collection_type"`
}

// CollectionFilter for collection listings
type CollectionFilter struct {
	CellCaptiveID  *uuid.UUID
	Status         string
	CollectionType string
	PolicyNumber   string
	DateFrom       *time.Time
	DateTo         *time.Time
	Page           Page
}

// UpdateResult is returned by the state updater.
type UpdateResult struct {
	Collection     *Collection     `json:"collection"`
	Created        bool            `json:"created"`
	Reconciliation *Reconciliation `json:"reconciliation,omitempty"`
}

// BulkItemError describes one rejected bulk item.
type BulkItemError struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// BulkResult is the outcome of an atomic bulk update.
type BulkResult struct {
	Committed bool            `json:"committed"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Results   []*UpdateResult `json:"results"`
	Errors    []BulkItemError `json:"errors"`
}
