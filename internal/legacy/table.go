package legacy

import (
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/model"
)

// HistoricalPurchases lists purchases confirmed before the store
// migration whose rows never made it into ownership_records.  Plot ids
// are kept exactly as they appeared in the old store.  A row imported
// into ownership_records must carry the historical ID as its
// purchase_ref; from then on the entry no longer applies.
var HistoricalPurchases = []model.OwnershipRecord{
	{
		ID:         "legacy-0001",
		PlotID:     "77",
		UserEmail:  "tunde.adebayo@example.com",
		SqmOwned:   decimal.NewFromInt(1),
		AmountPaid: decimal.NewFromInt(5000),
		CreatedAt:  day("2025-07-14"),
	},
	{
		ID:         "legacy-0002",
		PlotID:     "1",
		UserEmail:  "ifeoma.nwosu@example.com",
		SqmOwned:   decimal.NewFromInt(1),
		AmountPaid: decimal.NewFromInt(5000),
		CreatedAt:  day("2025-07-19"),
	},
	{
		ID:         "legacy-0003",
		PlotID:     "77",
		UserEmail:  "chioma.eze@example.com",
		SqmOwned:   decimal.NewFromInt(7),
		AmountPaid: decimal.NewFromInt(35000),
		CreatedAt:  day("2025-07-22"),
	},
	{
		ID:              "legacy-0004",
		PlotID:          "77",
		UserEmail:       "chioma.eze@example.com",
		SqmOwned:        decimal.RequireFromString("0.5"),
		AmountPaid:      decimal.NewFromInt(2500),
		IsReferralBonus: true,
		CreatedAt:       day("2025-07-22"),
	},
	{
		ID:         "legacy-0005",
		PlotID:     "78",
		UserEmail:  "emeka.obi@example.com",
		SqmOwned:   decimal.NewFromInt(12),
		AmountPaid: decimal.NewFromInt(60000),
		CreatedAt:  day("2025-08-02"),
	},
}
