package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookLog records one webhook call and its response.
type WebhookLog struct {
	ID               uuid.UUID  `json:"id"`
	CellCaptiveID    *uuid.UUID `json:"cell_captive_id,omitempty"`
	Endpoint         string     `json:"endpoint"`
	Method           string     `json:"method"`
	Headers          JSONMap    `json:"headers"`
	Payload          JSONMap    `json:"payload"`
	ResponseStatus   int        `json:"response_status"`
	ResponseBody     string     `json:"response_body"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	CreatedAt        time.Time  `json:"created_at"`
}

// WebhookLogFilter: Status is "success" (<400), "error" (>=400) or empty.
type WebhookLogFilter struct {
	CellCaptiveID uuid.UUID
	Status        string
	Endpoint      string
	Page          Page
}
