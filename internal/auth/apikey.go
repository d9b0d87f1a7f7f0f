package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

const (
	keySecretBytes = 32
	keyPreviewLen  = 12
	touchTimeout   = 5 * time.Second
)

// KeyStore is the persistence the credential validator needs.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKeyWithCaptive, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Principal is the authenticated caller of a webhook or captive route.
type Principal struct {
	KeyID       uuid.UUID `json:"key_id"`
	KeyName     string    `json:"key_name"`
	Scopes      ScopeSet  `json:"-"`
	CaptiveID   uuid.UUID `json:"cell_captive_id"`
	CaptiveName string    `json:"captive_name"`
	CaptiveCode string    `json:"captive_code"`
}

// APIKeyService validates bearer API keys.
type APIKeyService struct {
	store  KeyStore
	prefix string
	now    func() time.Time
	log    *zap.Logger
}

func NewAPIKeyService(store KeyStore, prefix string) *APIKeyService {
	return &APIKeyService{
		store:  store,
		prefix: prefix,
		now:    time.Now,
		log:    logger.Named("auth"),
	}
}

// Prefix is the token prefix issued keys carry.
func (s *APIKeyService) Prefix() string {
	return s.prefix
}

// Authenticate resolves the Authorization header into a principal. The
// checks run in a fixed order and the prefix is verified before any lookup.
func (s *APIKeyService) Authenticate(ctx context.Context, header string) (*Principal, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, apperr.Unauthorized(apperr.CodeMissingAPIKey, "API key required")
	}
	if !strings.HasPrefix(token, s.prefix) {
		return nil, apperr.Unauthorized(apperr.CodeInvalidAPIKeyFormat, "Invalid API key format")
	}

	key, err := s.store.GetAPIKeyByHash(ctx, HashKey(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.CodeInvalidAPIKey, "Invalid API key")
		}
		return nil, apperr.Internal(apperr.CodeAuthError, err)
	}

	switch {
	case !key.IsActive:
		return nil, apperr.Unauthorized(apperr.CodeAPIKeyRevoked, "API key has been revoked")
	case !key.CaptiveIsActive:
		return nil, apperr.Unauthorized(apperr.CodeCaptiveInactive, "Cell captive is inactive")
	case key.Expired(s.now()):
		return nil, apperr.Unauthorized(apperr.CodeAPIKeyExpired, "API key has expired")
	}

	scopes, unknown := ParseScopes(key.Permissions)
	if len(unknown) > 0 {
		s.log.Warn("ignoring unknown api key scopes",
			zap.String("key_id", key.ID.String()), zap.Strings("scopes", unknown))
	}

	s.touch(ctx, key.ID)

	return &Principal{
		KeyID:       key.ID,
		KeyName:     key.KeyName,
		Scopes:      scopes,
		CaptiveID:   key.CellCaptiveID,
		CaptiveName: key.CaptiveName,
		CaptiveCode: key.CaptiveCode,
	}, nil
}

// touch records last use without holding up the request.
func (s *APIKeyService) touch(ctx context.Context, id uuid.UUID) {
	at := s.now()
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
	go func() {
		defer cancel()
		if err := s.store.TouchAPIKey(bg, id, at); err != nil {
			s.log.Warn("failed to update api key last_used_at", zap.String("key_id", id.String()), zap.Error(err))
		}
	}()
}

func bearerToken(header string) (string, bool) {
	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	token := strings.TrimSpace(header[len(scheme):])
	return token, token != ""
}

// HashKey is the storage form of a token.
func HashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GeneratedKey is a freshly minted token with its stored forms.
type GeneratedKey struct {
	Token   string
	Hash    string
	Preview string
}

// GenerateKey mints prefix + 64 hex characters.
func GenerateKey(prefix string) (*GeneratedKey, error) {
	b := make([]byte, keySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate key secret: %w", err)
	}
	token := prefix + hex.EncodeToString(b)
	preview := token
	if len(preview) > keyPreviewLen {
		preview = preview[:keyPreviewLen]
	}
	return &GeneratedKey{Token: token, Hash: HashKey(token), Preview: preview}, nil
}
