package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const collectionColumns = `c.id, c.collection_reference, c.policy_id, c.cell_captive_id, c.collection_type,
	c.amount, c.collection_date, c.status, c.failure_reason, c.retry_count, c.max_retries,
	c.investec_reference, c.created_by, c.approved_by, c.approved_at, c.processed_at,
	c.created_at, c.updated_at`

func scanCollection(row interface{ Scan(...interface{}) error }, c *models.Collection, extra ...interface{}) error {
	dest := []interface{}{&c.ID, &c.CollectionReference, &c.PolicyID, &c.CellCaptiveID, &c.CollectionType,
		&c.Amount, &c.CollectionDate, &c.Status, &c.FailureReason, &c.RetryCount, &c.MaxRetries,
		&c.InvestecReference, &c.CreatedBy, &c.ApprovedBy, &c.ApprovedAt, &c.ProcessedAt,
		&c.CreatedAt, &c.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// GetCollectionByReference is the tenant-scoped lookup used by updates; the
// row is locked until the surrounding transaction ends.
func (q *Queries) GetCollectionByReference(ctx context.Context, captiveID uuid.UUID, reference string) (*models.Collection, error) {
	var c models.Collection
	err := scanCollection(q.db.QueryRowContext(ctx, `
		SELECT `+collectionColumns+`
		FROM collections c
		WHERE c.collection_reference = $1 AND c.cell_captive_id = $2
		FOR UPDATE
	`, reference, captiveID), &c)
	if err != nil {
		return nil, notFound(err, "collection")
	}
	return &c, nil
}

func (q *Queries) GetCollection(ctx context.Context, id uuid.UUID) (*models.Collection, error) {
	var c models.Collection
	err := scanCollection(q.db.QueryRowContext(ctx, `
		SELECT `+collectionColumns+` FROM collections c WHERE c.id = $1 FOR UPDATE
	`, id), &c)
	if err != nil {
		return nil, notFound(err, "collection")
	}
	return &c, nil
}

// GetCollectionForPolicyDate finds the collection on a policy for a date.
// When several exist the most recent is returned.
func (q *Queries) GetCollectionForPolicyDate(ctx context.Context, policyID uuid.UUID, date time.Time) (*models.Collection, error) {
	var c models.Collection
	err := scanCollection(q.db.QueryRowContext(ctx, `
		SELECT `+collectionColumns+`
		FROM collections c
		WHERE c.policy_id = $1 AND c.collection_date = $2::date
		ORDER BY c.created_at DESC
		LIMIT 1
		FOR UPDATE
	`, policyID, date.Format(models.DateLayout)), &c)
	if err != nil {
		return nil, notFound(err, "collection")
	}
	return &c, nil
}

func (q *Queries) CreateCollection(ctx context.Context, c *models.Collection) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO collections (
			collection_reference, policy_id, cell_captive_id, collection_type, amount,
			collection_date, status, failure_reason, investec_reference, created_by, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11)
		RETURNING id, retry_count, max_retries, created_at, updated_at
	`, c.CollectionReference, c.PolicyID, c.CellCaptiveID, c.CollectionType, c.Amount,
		c.CollectionDate.Format(models.DateLayout), c.Status, c.FailureReason, c.InvestecReference,
		c.CreatedBy, c.ProcessedAt,
	).Scan(&c.ID, &c.RetryCount, &c.MaxRetries, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("collection %s: %w", c.CollectionReference, ErrConflict)
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpdateCollection persists the mutable fields. processed_at is only ever
// filled, never replaced.
func (q *Queries) UpdateCollection(ctx context.Context, c *models.Collection) error {
	err := q.db.QueryRowContext(ctx, `
		UPDATE collections SET
			status = $2,
			amount = $3,
			failure_reason = $4,
			investec_reference = $5,
			processed_at = COALESCE(processed_at, $6)
		WHERE id = $1
		RETURNING processed_at, updated_at
	`, c.ID, c.Status, c.Amount, c.FailureReason, c.InvestecReference, c.ProcessedAt,
	).Scan(&c.ProcessedAt, &c.UpdatedAt)
	if err != nil {
		return notFound(err, "collection")
	}
	return nil
}

// ListCollections retrieves collections joined with policy and
// reconciliation state.
func (q *Queries) ListCollections(ctx context.Context, f models.CollectionFilter) ([]*models.CollectionView, int, error) {
	w := newWhere()
	if f.CellCaptiveID != nil {
		w.add("c.cell_captive_id = $%d", *f.CellCaptiveID)
	}
	if f.Status != "" {
		w.add("c.status = $%d", f.Status)
	}
	if f.CollectionType != "" {
		w.add("c.collection_type = $%d", f.CollectionType)
	}
	if f.PolicyNumber != "" {
		w.add("p.policy_number = $%d", f.PolicyNumber)
	}
	if f.DateFrom != nil {
		w.add("c.collection_date >= $%d::date", f.DateFrom.Format(models.DateLayout))
	}
	if f.DateTo != nil {
		w.add("c.collection_date <= $%d::date", f.DateTo.Format(models.DateLayout))
	}

	from := `
		FROM collections c
		JOIN policies p ON p.id = c.policy_id
		JOIN cell_captives cc ON cc.id = c.cell_captive_id
		LEFT JOIN reconciliation_records r ON r.collection_id = c.id
		` + w.clause

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) "+from, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count collections: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, p.policy_number, p.client_name, cc.name, r.status %s
		ORDER BY c.collection_date DESC, c.created_at DESC
		LIMIT $%d OFFSET $%d`, collectionColumns, from, w.next(), w.next()+1)
	rows, err := q.db.QueryContext(ctx, query, append(w.args, f.Page.Limit, f.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var out []*models.CollectionView
	for rows.Next() {
		var v models.CollectionView
		if err := scanCollection(rows, &v.Collection, &v.PolicyNumber, &v.ClientName, &v.CaptiveName, &v.ReconciliationStatus); err != nil {
			return nil, 0, fmt.Errorf("failed to scan collection: %w", err)
		}
		out = append(out, &v)
	}
	return out, total, rows.Err()
}
