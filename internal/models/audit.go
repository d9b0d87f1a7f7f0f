package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditInsert AuditAction = "INSERT"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
)

// AuditEntry is an append-only change record. ChangedBy is nil when the
// change came through an API key.
type AuditEntry struct {
	ID        uuid.UUID   `json:"id"`
	TableName string      `json:"table_name"`
	RecordID  uuid.UUID   `json:"record_id"`
	Action    AuditAction `json:"action"`
	OldValues JSONMap     `json:"old_values,omitempty"`
	NewValues JSONMap     `json:"new_values,omitempty"`
	ChangedBy *uuid.UUID  `json:"changed_by,omitempty"`
	IPAddress string      `json:"ip_address,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// RequestMeta carries caller details for audit and webhook log rows.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	UserID    *uuid.UUID
}
