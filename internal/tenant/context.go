package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/auth"
)

// ======================= TENANT CONTEXT =======================

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	principalKey contextKey = "api_principal"
	staffKey     contextKey = "staff_claims"
)

var (
	// ErrNoTenantContext is returned when no API key principal is attached
	ErrNoTenantContext = errors.New("no tenant context found in request")
	// ErrNoStaffContext is returned when no staff session is attached
	ErrNoStaffContext = errors.New("no staff session found in request")
)

// ======================= CONTEXT HELPERS =======================

// WithPrincipal attaches the authenticated API key principal.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal extracts the API key principal from context
func GetPrincipal(ctx context.Context) (*auth.Principal, error) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	if !ok || p == nil {
		return nil, ErrNoTenantContext
	}
	return p, nil
}

// GetTenantID extracts the cell captive id from context
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return p.CaptiveID, nil
}

// MustGetPrincipal extracts the principal or panics.
// Use this only in handlers where the API key middleware guarantees context exists
func MustGetPrincipal(ctx context.Context) *auth.Principal {
	p, err := GetPrincipal(ctx)
	if err != nil {
		panic("tenant context not found: ensure API key middleware is applied")
	}
	return p
}

// WithStaff attaches verified staff session claims.
func WithStaff(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, staffKey, c)
}

// GetStaff extracts staff claims from context
func GetStaff(ctx context.Context) (*auth.Claims, error) {
	c, ok := ctx.Value(staffKey).(*auth.Claims)
	if !ok || c == nil {
		return nil, ErrNoStaffContext
	}
	return c, nil
}

// StaffUserID returns the staff user id, or nil for API key callers.
func StaffUserID(ctx context.Context) *uuid.UUID {
	c, err := GetStaff(ctx)
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return nil
	}
	return &id
}
