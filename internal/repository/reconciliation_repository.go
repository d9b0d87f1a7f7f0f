package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const reconciliationColumns = `r.id, r.collection_id, r.investec_reference, r.bank_reference, r.amount,
	r.transaction_date, r.status, r.reconciled_by, r.reconciled_at, r.notes, r.created_at, r.updated_at`

func scanReconciliation(row interface{ Scan(...interface{}) error }, r *models.Reconciliation, extra ...interface{}) error {
	dest := []interface{}{&r.ID, &r.CollectionID, &r.InvestecReference, &r.BankReference, &r.Amount,
		&r.TransactionDate, &r.Status, &r.ReconciledBy, &r.ReconciledAt, &r.Notes, &r.CreatedAt, &r.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// UpsertReconciliation inserts or refreshes the single record for a
// collection. References absent from the new record keep their old value.
func (q *Queries) UpsertReconciliation(ctx context.Context, r *models.Reconciliation) error {
	err := scanReconciliation(q.db.QueryRowContext(ctx, `
		INSERT INTO reconciliation_records AS r (
			collection_id, investec_reference, bank_reference, amount, transaction_date,
			status, reconciled_by, reconciled_at, notes
		) VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9)
		ON CONFLICT (collection_id) DO UPDATE SET
			investec_reference = COALESCE(EXCLUDED.investec_reference, r.investec_reference),
			bank_reference = COALESCE(EXCLUDED.bank_reference, r.bank_reference),
			amount = EXCLUDED.amount,
			transaction_date = EXCLUDED.transaction_date,
			status = EXCLUDED.status,
			reconciled_by = EXCLUDED.reconciled_by,
			reconciled_at = EXCLUDED.reconciled_at,
			notes = COALESCE(EXCLUDED.notes, r.notes)
		RETURNING `+reconciliationColumns,
		r.CollectionID, r.InvestecReference, r.BankReference, r.Amount, dateArg(r.TransactionDate),
		r.Status, r.ReconciledBy, r.ReconciledAt, r.Notes), r)
	if err != nil {
		return fmt.Errorf("failed to upsert reconciliation record: %w", err)
	}
	return nil
}

func (q *Queries) GetReconciliationByCollection(ctx context.Context, collectionID uuid.UUID) (*models.Reconciliation, error) {
	var r models.Reconciliation
	err := scanReconciliation(q.db.QueryRowContext(ctx, `
		SELECT `+reconciliationColumns+` FROM reconciliation_records r WHERE r.collection_id = $1
	`, collectionID), &r)
	if err != nil {
		return nil, notFound(err, "reconciliation record")
	}
	return &r, nil
}

// ListReconciliations lists records with their collection and policy.
func (q *Queries) ListReconciliations(ctx context.Context, f models.ReconciliationFilter) ([]*models.ReconciliationView, int, error) {
	w := newWhere()
	if f.Status != "" {
		w.add("r.status = $%d", f.Status)
	}
	from := `
		FROM reconciliation_records r
		JOIN collections c ON c.id = r.collection_id
		JOIN policies p ON p.id = c.policy_id
		` + w.clause

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) "+from, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reconciliation records: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, c.collection_reference, c.amount, p.policy_number, p.client_name %s
		ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`, reconciliationColumns, from, w.next(), w.next()+1)
	rows, err := q.db.QueryContext(ctx, query, append(w.args, f.Page.Limit, f.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query reconciliation records: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationView
	for rows.Next() {
		var v models.ReconciliationView
		if err := scanReconciliation(rows, &v.Reconciliation,
			&v.CollectionReference, &v.CollectionAmount, &v.PolicyNumber, &v.ClientName); err != nil {
			return nil, 0, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		out = append(out, &v)
	}
	return out, total, rows.Err()
}
