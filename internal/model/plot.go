package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plot is a parcel of land offered for fractional sub-ownership.  It
// corresponds to a row in the `plots` table.  ID is the storage id
// (e.g. "1"); DisplayName is the human label shown to buyers (e.g.
// "Plot 77") and is resolved through the plotkey naming table.
//
// Fields:
//
//	ID            – canonical storage id.
//	DisplayName   – human label, independent of the storage id.
//	Location      – free-form location text.
//	TotalSize     – size of the parcel in square meters.
//	PricePerSqm   – price of one square meter in the plot currency.
//	Status        – ACTIVE, SOLD_OUT or ARCHIVED.
//	AvailableSize – cached counter maintained by the atomic reserve path.
//	                Never authoritative; recompute from ownership records.
//	CreatedAt     – creation timestamp.
//	UpdatedAt     – last update timestamp.
type Plot struct {
	ID            string          `json:"id"`             // plots.id
	DisplayName   string          `json:"display_name"`   // plots.display_name
	Location      string          `json:"location"`       // plots.location
	TotalSize     decimal.Decimal `json:"total_size"`     // plots.total_size
	PricePerSqm   decimal.Decimal `json:"price_per_sqm"`  // plots.price_per_sqm
	Status        string          `json:"status"`         // plots.status
	AvailableSize decimal.Decimal `json:"available_size"` // plots.available_size (cache)
	CreatedAt     time.Time       `json:"created_at"`     // plots.created_at
	UpdatedAt     time.Time       `json:"updated_at"`     // plots.updated_at
}

// Plot status values.
const (
	PlotStatusActive   = "ACTIVE"
	PlotStatusSoldOut  = "SOLD_OUT"
	PlotStatusArchived = "ARCHIVED"
)
