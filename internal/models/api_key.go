package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a tenant credential. Only the SHA-256 hash of the token is
// stored; the plaintext is handed out once at creation.
type APIKey struct {
	ID            uuid.UUID  `json:"id"`
	CellCaptiveID uuid.UUID  `json:"cell_captive_id"`
	KeyName       string     `json:"key_name"`
	KeyHash       string     `json:"-"`
	KeyPreview    string     `json:"key_preview"`
	Permissions   StringList `json:"permissions"`
	IsActive      bool       `json:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedBy     *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// APIKeyWithCaptive is the credential lookup row: key plus owning tenant.
type APIKeyWithCaptive struct {
	APIKey
	CaptiveName     string `json:"captive_name"`
	CaptiveCode     string `json:"captive_code"`
	CaptiveIsActive bool   `json:"captive_is_active"`
}

// CreateAPIKeyRequest is the staff request for a new key.
type CreateAPIKeyRequest struct {
	CellCaptiveID uuid.UUID  `json:"cell_captive_id" binding:"required"`
	KeyName       string     `json:"key_name" binding:"required"`
	Permissions   []string   `json:"permissions"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// GeneratedAPIKey is returned once, carrying the plaintext token.
type GeneratedAPIKey struct {
	APIKey
	Token string `json:"api_key"`
}
