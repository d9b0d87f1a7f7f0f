package repository

import (
	"context"
	"fmt"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

func (q *Queries) InsertWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO webhook_logs (cell_captive_id, endpoint, method, headers, payload,
			response_status, response_body, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, l.CellCaptiveID, l.Endpoint, l.Method, jsonOrNull(l.Headers), jsonOrNull(l.Payload),
		l.ResponseStatus, l.ResponseBody, l.ProcessingTimeMs,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

// ListWebhookLogs returns a tenant's webhook calls, newest first.
func (q *Queries) ListWebhookLogs(ctx context.Context, f models.WebhookLogFilter) ([]*models.WebhookLog, int, error) {
	w := newWhere()
	w.add("cell_captive_id = $%d", f.CellCaptiveID)
	switch f.Status {
	case "success":
		w.clause += " AND response_status < 400"
	case "error":
		w.clause += " AND response_status >= 400"
	}
	if f.Endpoint != "" {
		w.add("endpoint ILIKE $%d", "%"+f.Endpoint+"%")
	}

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM webhook_logs "+w.clause, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, cell_captive_id, endpoint, method, headers, payload,
			COALESCE(response_status, 0), COALESCE(response_body, ''), COALESCE(processing_time_ms, 0), created_at
		FROM webhook_logs %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, w.clause, w.next(), w.next()+1)
	rows, err := q.db.QueryContext(ctx, query, append(w.args, f.Page.Limit, f.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		var l models.WebhookLog
		if err := rows.Scan(&l.ID, &l.CellCaptiveID, &l.Endpoint, &l.Method, &l.Headers, &l.Payload,
			&l.ResponseStatus, &l.ResponseBody, &l.ProcessingTimeMs, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan webhook log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, total, rows.Err()
}
