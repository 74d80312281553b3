package model

import "github.com/shopspring/decimal"

// UserPortfolio is a derived view over a user's Active ownership
// records.  It is never persisted.
//
// Fields:
//
//	TotalSqmOwned   – sum of SqmOwned over all Active records, bonuses included.
//	TotalAmountPaid – sum of AmountPaid over Active, non-bonus records.
//	PerPlot         – per-plot aggregation ordered by plot id.
//	Records         – the records the totals were computed from.
//	FallbackUsed    – true when the records came from the legacy table.
type UserPortfolio struct {
	TotalSqmOwned   decimal.Decimal   `json:"total_sqm_owned"`
	TotalAmountPaid decimal.Decimal   `json:"total_amount_paid"`
	PerPlot         []PlotOwnership   `json:"per_plot"`
	Records         []OwnershipRecord `json:"records"`
	FallbackUsed    bool              `json:"fallback_used"`
}

// PlotOwnership is the user's share of a single plot.
// OwnershipPercentage is expressed in percent (0–100), rounded to four
// decimal places.
type PlotOwnership struct {
	PlotID              string          `json:"plot_id"`
	DisplayName         string          `json:"display_name"`
	SqmOwned            decimal.Decimal `json:"sqm_owned"`
	AmountPaid          decimal.Decimal `json:"amount_paid"`
	TotalSize           decimal.Decimal `json:"total_size"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
}
