package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const apiKeyColumns = `k.id, k.cell_captive_id, k.key_name, k.key_hash, k.key_preview, k.permissions,
	k.is_active, k.expires_at, k.last_used_at, k.created_by, k.created_at, k.updated_at`

func scanAPIKey(row interface{ Scan(...interface{}) error }, k *models.APIKey, extra ...interface{}) error {
	dest := []interface{}{&k.ID, &k.CellCaptiveID, &k.KeyName, &k.KeyHash, &k.KeyPreview, &k.Permissions,
		&k.IsActive, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// GetAPIKeyByHash is the credential lookup: the key joined with its tenant.
func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKeyWithCaptive, error) {
	var k models.APIKeyWithCaptive
	err := scanAPIKey(q.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+`, cc.name, cc.code, cc.is_active
		FROM api_keys k
		JOIN cell_captives cc ON cc.id = k.cell_captive_id
		WHERE k.key_hash = $1
	`, hash), &k.APIKey, &k.CaptiveName, &k.CaptiveCode, &k.CaptiveIsActive)
	if err != nil {
		return nil, notFound(err, "api key")
	}
	return &k, nil
}

// TouchAPIKey records a successful authentication.
func (q *Queries) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to update api key last_used_at: %w", err)
	}
	return nil
}

func (q *Queries) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (cell_captive_id, key_name, key_hash, key_preview, permissions, is_active, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, k.CellCaptiveID, k.KeyName, k.KeyHash, k.KeyPreview, k.Permissions, k.IsActive, k.ExpiresAt, k.CreatedBy,
	).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key hash: %w", ErrConflict)
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (q *Queries) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var k models.APIKey
	if err := scanAPIKey(q.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys k WHERE k.id = $1`, id), &k); err != nil {
		return nil, notFound(err, "api key")
	}
	return &k, nil
}

// ListAPIKeys lists keys, optionally for one captive, newest first.
func (q *Queries) ListAPIKeys(ctx context.Context, captiveID *uuid.UUID) ([]*models.APIKeyWithCaptive, error) {
	w := newWhere()
	if captiveID != nil {
		w.add("k.cell_captive_id = $%d", *captiveID)
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`, cc.name, cc.code, cc.is_active
		FROM api_keys k
		JOIN cell_captives cc ON cc.id = k.cell_captive_id
		`+w.clause+`
		ORDER BY k.created_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKeyWithCaptive
	for rows.Next() {
		var k models.APIKeyWithCaptive
		if err := scanAPIKey(rows, &k.APIKey, &k.CaptiveName, &k.CaptiveCode, &k.CaptiveIsActive); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deactivates a key and returns its new state.
func (q *Queries) RevokeAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var k models.APIKey
	err := scanAPIKey(q.db.QueryRowContext(ctx, `
		UPDATE api_keys k SET is_active = false
		WHERE k.id = $1
		RETURNING `+apiKeyColumns, id), &k)
	if err != nil {
		return nil, notFound(err, "api key")
	}
	return &k, nil
}

func (q *Queries) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
