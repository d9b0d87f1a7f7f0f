package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

// CollectionStats aggregates collections matching f.
func (q *Queries) CollectionStats(ctx context.Context, f models.CollectionStatsFilter) (*models.CollectionStats, error) {
	w := newWhere()
	if f.CellCaptiveID != nil {
		w.add("cell_captive_id = $%d", *f.CellCaptiveID)
	}
	if f.DateFrom != nil {
		w.add("collection_date >= $%d::date", f.DateFrom.Format(models.DateLayout))
	}
	if f.DateTo != nil {
		w.add("collection_date <= $%d::date", f.DateTo.Format(models.DateLayout))
	}

	var s models.CollectionStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'successful'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'submitted'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE collection_type = 'recurring'),
			COUNT(*) FILTER (WHERE collection_type = 'adhoc'),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'successful'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'failed'), 0)
		FROM collections
		`+w.clause, w.args...).Scan(&s.Total, &s.Successful, &s.Failed, &s.Pending, &s.Submitted, &s.Cancelled,
		&s.Recurring, &s.Adhoc, &s.TotalAmount, &s.TotalCollected, &s.TotalFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate collections: %w", err)
	}
	return &s, nil
}

// PolicyStats normalises premiums to a monthly figure for active policies.
func (q *Queries) PolicyStats(ctx context.Context, captiveID uuid.UUID) (*models.PolicyStats, error) {
	var s models.PolicyStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'lapsed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(CASE frequency
				WHEN 'quarterly' THEN premium_amount / 3
				WHEN 'annually' THEN premium_amount / 12
				ELSE premium_amount END) FILTER (WHERE status = 'active'), 0)
		FROM policies
		WHERE cell_captive_id = $1
	`, captiveID).Scan(&s.Total, &s.Active, &s.Lapsed, &s.Cancelled, &s.MonthlyPremium)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate policies: %w", err)
	}
	return &s, nil
}

// MonthlyTrend returns the last twelve months of collections, oldest first.
func (q *Queries) MonthlyTrend(ctx context.Context, captiveID uuid.UUID) ([]models.MonthlyTrend, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT TO_CHAR(DATE_TRUNC('month', collection_date), 'YYYY-MM') AS month,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'successful'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'successful'), 0)
		FROM collections
		WHERE cell_captive_id = $1
			AND collection_date >= DATE_TRUNC('month', CURRENT_DATE) - INTERVAL '11 months'
		GROUP BY 1
		ORDER BY 1
	`, captiveID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection trend: %w", err)
	}
	defer rows.Close()

	var trend []models.MonthlyTrend
	for rows.Next() {
		var m models.MonthlyTrend
		if err := rows.Scan(&m.Month, &m.Total, &m.Successful, &m.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		trend = append(trend, m)
	}
	return trend, rows.Err()
}
