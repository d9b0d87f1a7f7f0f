package models

import (
	"time"

	"github.com/google/uuid"
)

type ReconciliationStatus string

const (
	ReconMatched   ReconciliationStatus = "matched"
	ReconUnmatched ReconciliationStatus = "unmatched"
	ReconDisputed  ReconciliationStatus = "disputed"
)

// Reconciliation links a collection to its bank-side evidence. At most one
// per collection.
type Reconciliation struct {
	ID                uuid.UUID            `json:"id"`
	CollectionID      uuid.UUID            `json:"collection_id"`
	InvestecReference *string              `json:"investec_reference,omitempty"`
	BankReference     *string              `json:"bank_reference,omitempty"`
	Amount            Amount               `json:"amount"`
	TransactionDate   *time.Time           `json:"transaction_date,omitempty"`
	Status            ReconciliationStatus `json:"status"`
	ReconciledBy      *uuid.UUID           `json:"reconciled_by,omitempty"`
	ReconciledAt      *time.Time           `json:"reconciled_at,omitempty"`
	Notes             *string              `json:"notes,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// ReconciliationView joins a record with its collection and policy.
type ReconciliationView struct {
	Reconciliation
	CollectionReference string `json:"collection_reference"`
	CollectionAmount    Amount `json:"collection_amount"`
	PolicyNumber        string `json:"policy_number"`
	ClientName          string `json:"client_name"`
}

// ReconciliationFilter for staff listings
type ReconciliationFilter struct {
	Status string
	Page   Page
}
