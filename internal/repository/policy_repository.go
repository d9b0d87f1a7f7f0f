package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const policyColumns = `id, policy_number, cell_captive_id, client_name, client_email, client_phone,
	premium_amount, frequency, status, mandate_reference, bank_account_number, bank_branch_code,
	bank_account_type, next_collection_date, grace_period_days, created_at, updated_at`

func scanPolicy(row interface{ Scan(...interface{}) error }, p *models.Policy) error {
	return row.Scan(&p.ID, &p.PolicyNumber, &p.CellCaptiveID, &p.ClientName, &p.ClientEmail, &p.ClientPhone,
		&p.PremiumAmount, &p.Frequency, &p.Status, &p.MandateReference, &p.BankAccountNumber, &p.BankBranchCode,
		&p.BankAccountType, &p.NextCollectionDate, &p.GracePeriodDays, &p.CreatedAt, &p.UpdatedAt)
}

// GetPolicyByNumber looks a policy up across all tenants; policy numbers
// are globally unique, callers check ownership.
func (q *Queries) GetPolicyByNumber(ctx context.Context, number string) (*models.Policy, error) {
	var p models.Policy
	if err := scanPolicy(q.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE policy_number = $1`, number), &p); err != nil {
		return nil, notFound(err, "policy")
	}
	return &p, nil
}

// LockTenantPolicy fetches a tenant's policy and holds its row lock until
// the surrounding transaction ends. Concurrent creators of a collection on
// the same policy queue here, so the loser sees the winner's row.
func (q *Queries) LockTenantPolicy(ctx context.Context, captiveID uuid.UUID, number string) (*models.Policy, error) {
	var p models.Policy
	if err := scanPolicy(q.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM policies
		WHERE policy_number = $1 AND cell_captive_id = $2
		FOR UPDATE
	`, number, captiveID), &p); err != nil {
		return nil, notFound(err, "policy")
	}
	return &p, nil
}

func (q *Queries) CreatePolicy(ctx context.Context, p *models.Policy) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO policies (
			policy_number, cell_captive_id, client_name, client_email, client_phone,
			premium_amount, frequency, status, mandate_reference, bank_account_number,
			bank_branch_code, bank_account_type, next_collection_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, grace_period_days, created_at, updated_at
	`, p.PolicyNumber, p.CellCaptiveID, p.ClientName, p.ClientEmail, p.ClientPhone,
		p.PremiumAmount, p.Frequency, p.Status, p.MandateReference, p.BankAccountNumber,
		p.BankBranchCode, p.BankAccountType, p.NextCollectionDate,
	).Scan(&p.ID, &p.GracePeriodDays, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %s: %w", p.PolicyNumber, ErrConflict)
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (q *Queries) UpdatePolicy(ctx context.Context, p *models.Policy) error {
	err := q.db.QueryRowContext(ctx, `
		UPDATE policies SET
			client_name = $2, client_email = $3, client_phone = $4, premium_amount = $5,
			frequency = $6, status = $7, mandate_reference = $8, bank_account_number = $9,
			bank_branch_code = $10, bank_account_type = $11, next_collection_date = $12
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.ClientName, p.ClientEmail, p.ClientPhone, p.PremiumAmount,
		p.Frequency, p.Status, p.MandateReference, p.BankAccountNumber,
		p.BankBranchCode, p.BankAccountType, p.NextCollectionDate,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return notFound(err, "policy")
	}
	return nil
}

// ListPolicies retrieves a tenant's policies with filtering
func (q *Queries) ListPolicies(ctx context.Context, f models.PolicyFilter) ([]*models.Policy, int, error) {
	w := newWhere()
	w.add("cell_captive_id = $%d", f.CellCaptiveID)
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		w.add("(policy_number ILIKE $%[1]d OR client_name ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policies "+w.clause, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count policies: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM policies %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		policyColumns, w.clause, w.next(), w.next()+1)
	rows, err := q.db.QueryContext(ctx, query, append(w.args, f.Page.Limit, f.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []*models.Policy
	for rows.Next() {
		var p models.Policy
		if err := scanPolicy(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, &p)
	}
	return out, total, rows.Err()
}
