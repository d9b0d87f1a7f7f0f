package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

// InsertAudit appends an audit trail row.
func (q *Queries) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO audit_trail (table_name, record_id, action, old_values, new_values, changed_by, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7::inet, $8)
		RETURNING id, created_at
	`, e.TableName, e.RecordID, e.Action, jsonOrNull(e.OldValues), jsonOrNull(e.NewValues),
		e.ChangedBy, nullString(e.IPAddress), nullString(e.UserAgent),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func jsonOrNull(m models.JSONMap) interface{} {
	if m == nil {
		return nil
	}
	return m
}

func dateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(models.DateLayout)
}
