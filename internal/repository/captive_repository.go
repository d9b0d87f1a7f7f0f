package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const captiveColumns = `id, name, code, contact_email, contact_phone, is_active, created_at, updated_at`

func scanCaptive(row interface{ Scan(...interface{}) error }, cc *models.CellCaptive) error {
	return row.Scan(&cc.ID, &cc.Name, &cc.Code, &cc.ContactEmail, &cc.ContactPhone,
		&cc.IsActive, &cc.CreatedAt, &cc.UpdatedAt)
}

func (q *Queries) GetCaptive(ctx context.Context, id uuid.UUID) (*models.CellCaptive, error) {
	var cc models.CellCaptive
	err := scanCaptive(q.db.QueryRowContext(ctx,
		`SELECT `+captiveColumns+` FROM cell_captives WHERE id = $1`, id), &cc)
	if err != nil {
		return nil, notFound(err, "cell captive")
	}
	return &cc, nil
}

func (q *Queries) GetCaptiveByCode(ctx context.Context, code string) (*models.CellCaptive, error) {
	var cc models.CellCaptive
	err := scanCaptive(q.db.QueryRowContext(ctx,
		`SELECT `+captiveColumns+` FROM cell_captives WHERE code = $1`, code), &cc)
	if err != nil {
		return nil, notFound(err, "cell captive")
	}
	return &cc, nil
}

const captiveSummarySelect = `
	SELECT cc.id, cc.name, cc.code, cc.contact_email, cc.contact_phone, cc.is_active,
		cc.created_at, cc.updated_at,
		(SELECT COUNT(*) FROM policies p WHERE p.cell_captive_id = cc.id),
		(SELECT COUNT(*) FROM policies p WHERE p.cell_captive_id = cc.id AND p.status = 'active'),
		(SELECT COUNT(*) FROM collections c WHERE c.cell_captive_id = cc.id),
		(SELECT COUNT(*) FROM collections c WHERE c.cell_captive_id = cc.id AND c.status = 'successful'),
		(SELECT COUNT(*) FROM collections c WHERE c.cell_captive_id = cc.id AND c.status = 'failed'),
		(SELECT COUNT(*) FROM collections c WHERE c.cell_captive_id = cc.id AND c.status = 'pending'),
		(SELECT COUNT(*) FROM api_keys k WHERE k.cell_captive_id = cc.id AND k.is_active),
		(SELECT COALESCE(SUM(c.amount), 0) FROM collections c WHERE c.cell_captive_id = cc.id AND c.status = 'successful')
	FROM cell_captives cc`

func scanCaptiveSummary(row interface{ Scan(...interface{}) error }, s *models.CaptiveSummary) error {
	return row.Scan(&s.ID, &s.Name, &s.Code, &s.ContactEmail, &s.ContactPhone, &s.IsActive,
		&s.CreatedAt, &s.UpdatedAt,
		&s.PolicyCount, &s.ActivePolicies, &s.TotalCollections, &s.SuccessfulCollections,
		&s.FailedCollections, &s.PendingCollections, &s.APIKeyCount, &s.TotalCollected)
}

// GetCaptiveSummary returns the captive with its counters.
func (q *Queries) GetCaptiveSummary(ctx context.Context, id uuid.UUID) (*models.CaptiveSummary, error) {
	var s models.CaptiveSummary
	if err := scanCaptiveSummary(q.db.QueryRowContext(ctx, captiveSummarySelect+` WHERE cc.id = $1`, id), &s); err != nil {
		return nil, notFound(err, "cell captive")
	}
	return &s, nil
}

// ListCaptives retrieves cell captives with counters, filtered and paginated
func (q *Queries) ListCaptives(ctx context.Context, f models.CaptiveFilter) ([]*models.CaptiveSummary, int, error) {
	w := newWhere()
	if f.Search != "" {
		w.add("(cc.name ILIKE $%[1]d OR cc.code ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if f.IsActive != nil {
		w.add("cc.is_active = $%d", *f.IsActive)
	}

	var total int
	if err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cell_captives cc "+w.clause, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cell captives: %w", err)
	}

	query := fmt.Sprintf("%s %s ORDER BY cc.name LIMIT $%d OFFSET $%d",
		captiveSummarySelect, w.clause, w.next(), w.next()+1)
	rows, err := q.db.QueryContext(ctx, query, append(w.args, f.Page.Limit, f.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query cell captives: %w", err)
	}
	defer rows.Close()

	var out []*models.CaptiveSummary
	for rows.Next() {
		var s models.CaptiveSummary
		if err := scanCaptiveSummary(rows, &s); err != nil {
			return nil, 0, fmt.Errorf("failed to scan cell captive: %w", err)
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

func (q *Queries) CreateCaptive(ctx context.Context, cc *models.CellCaptive) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO cell_captives (name, code, contact_email, contact_phone, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, cc.Name, cc.Code, cc.ContactEmail, cc.ContactPhone, cc.IsActive).Scan(&cc.ID, &cc.CreatedAt, &cc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("cell captive code %s: %w", cc.Code, ErrConflict)
		}
		return fmt.Errorf("failed to create cell captive: %w", err)
	}
	return nil
}

func (q *Queries) UpdateCaptive(ctx context.Context, cc *models.CellCaptive) error {
	err := q.db.QueryRowContext(ctx, `
		UPDATE cell_captives
		SET name = $2, contact_email = $3, contact_phone = $4, is_active = $5
		WHERE id = $1
		RETURNING updated_at
	`, cc.ID, cc.Name, cc.ContactEmail, cc.ContactPhone, cc.IsActive).Scan(&cc.UpdatedAt)
	if err != nil {
		return notFound(err, "cell captive")
	}
	return nil
}

// CountCaptiveDependents counts the rows that block deletion.
func (q *Queries) CountCaptiveDependents(ctx context.Context, id uuid.UUID) (models.CaptiveDependents, error) {
	var d models.CaptiveDependents
	err := q.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM policies WHERE cell_captive_id = $1),
			(SELECT COUNT(*) FROM collections WHERE cell_captive_id = $1),
			(SELECT COUNT(*) FROM api_keys WHERE cell_captive_id = $1)
	`, id).Scan(&d.Policies, &d.Collections, &d.APIKeys)
	if err != nil {
		return d, fmt.Errorf("failed to count dependents: %w", err)
	}
	return d, nil
}

func (q *Queries) DeleteCaptive(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cell_captives WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cell captive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cell captive %s: %w", id, ErrNotFound)
	}
	return nil
}
