package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CollectionStats aggregates collections, for one tenant or all of them.
type CollectionStats struct {
	Total          int    `json:"total"`
	Successful     int    `json:"successful"`
	Failed         int    `json:"failed"`
	Pending        int    `json:"pending"`
	Submitted      int    `json:"submitted"`
	Cancelled      int    `json:"cancelled"`
	Recurring      int    `json:"recurring"`
	Adhoc          int    `json:"adhoc"`
	TotalAmount    Amount `json:"total_amount"`
	TotalCollected Amount `json:"total_collected"`
	TotalFailed    Amount `json:"total_failed"`
	SuccessRatePct string `json:"success_rate"`
}

// CollectionStatsFilter narrows CollectionStats. A nil CellCaptiveID
// aggregates every tenant; the date bounds are inclusive.
type CollectionStatsFilter struct {
	CellCaptiveID *uuid.UUID
	DateFrom      *time.Time
	DateTo        *time.Time
}

// PolicyStats aggregates a tenant's policies.
type PolicyStats struct {
	Total          int    `json:"total"`
	Active         int    `json:"active"`
	Lapsed         int    `json:"lapsed"`
	Cancelled      int    `json:"cancelled"`
	MonthlyPremium Amount `json:"monthly_premium"`
}

// MonthlyTrend is one month of the 12-month collection trend.
type MonthlyTrend struct {
	Month      string `json:"month"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Amount     Amount `json:"amount"`
}

type CaptiveStatistics struct {
	Collections CollectionStats `json:"collections"`
	Policies    PolicyStats     `json:"policies"`
	Trend       []MonthlyTrend  `json:"trend"`
}

// RatePercent formats part/whole as a percentage with two decimals.
func RatePercent(part, whole int) string {
	if whole == 0 {
		return "0.00"
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		StringFixed(2)
}
