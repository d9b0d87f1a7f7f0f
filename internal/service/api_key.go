package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// APIKeyManagementService issues and revokes tenant API keys for staff.
type APIKeyManagementService struct {
	store  Store
	audit  *AuditService
	prefix string
	now    func() time.Time
}

func NewAPIKeyManagementService(store Store, audit *AuditService, prefix string) *APIKeyManagementService {
	return &APIKeyManagementService{store: store, audit: audit, prefix: prefix, now: time.Now}
}

// Generate creates a key and returns the plaintext token once.
func (s *APIKeyManagementService) Generate(ctx context.Context, req models.CreateAPIKeyRequest, meta models.RequestMeta) (*models.GeneratedAPIKey, error) {
	perms := req.Permissions
	if len(perms) == 0 {
		perms = auth.DefaultScopes()
	}
	for _, p := range perms {
		if !auth.ValidScope(p) {
			return nil, apperr.BadRequest(apperr.CodeInvalidPermission, fmt.Sprintf("Unknown permission %q", p))
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, apperr.BadRequest(apperr.CodeInvalidDate, "expires_at must be in the future")
	}

	cc, err := s.store.GetCaptive(ctx, req.CellCaptiveID)
	if err != nil {
		return nil, captiveErr(err)
	}
	if !cc.IsActive {
		return nil, apperr.BadRequest(apperr.CodeCaptiveInactive, "Cannot issue a key for an inactive cell captive")
	}

	gen, err := auth.GenerateKey(s.prefix)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	key := &models.APIKey{
		CellCaptiveID: cc.ID,
		KeyName:       req.KeyName,
		KeyHash:       gen.Hash,
		KeyPreview:    gen.Preview,
		Permissions:   models.StringList(perms),
		IsActive:      true,
		ExpiresAt:     req.ExpiresAt,
		CreatedBy:     meta.UserID,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}

	s.audit.Record(ctx, keyAudit(models.AuditInsert, nil, key, meta))
	return &models.GeneratedAPIKey{APIKey: *key, Token: gen.Token}, nil
}

// List returns keys, for one captive when captiveID is set.
func (s *APIKeyManagementService) List(ctx context.Context, captiveID *uuid.UUID) ([]*models.APIKeyWithCaptive, error) {
	keys, err := s.store.ListAPIKeys(ctx, captiveID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	if keys == nil {
		keys = []*models.APIKeyWithCaptive{}
	}
	return keys, nil
}

func (s *APIKeyManagementService) Revoke(ctx context.Context, id uuid.UUID, meta models.RequestMeta) (*models.APIKey, error) {
	before, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, keyErr(err)
	}
	after, err := s.store.RevokeAPIKey(ctx, id)
	if err != nil {
		return nil, keyErr(err)
	}
	s.audit.Record(ctx, keyAudit(models.AuditUpdate, before, after, meta))
	return after, nil
}

func (s *APIKeyManagementService) Delete(ctx context.Context, id uuid.UUID, meta models.RequestMeta) error {
	before, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return keyErr(err)
	}
	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		return keyErr(err)
	}
	s.audit.Record(ctx, keyAudit(models.AuditDelete, before, nil, meta))
	return nil
}

// keyAudit snapshots keys through their JSON form, which never carries
// the hash or token.
func keyAudit(action models.AuditAction, before, after *models.APIKey, meta models.RequestMeta) *models.AuditEntry {
	e := &models.AuditEntry{
		TableName: "api_keys",
		Action:    action,
		ChangedBy: meta.UserID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if before != nil {
		e.RecordID = before.ID
		e.OldValues = models.ToJSONMap(before)
	}
	if after != nil {
		e.RecordID = after.ID
		e.NewValues = models.ToJSONMap(after)
	}
	return e
}

func keyErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(apperr.CodeAPIKeyNotFound, "API key not found")
	}
	return apperr.Internal(apperr.CodeInternal, err)
}
