// Package legacy isolates the hardcoded historical purchases that were
// lost in the data migration between the two original stores.  It is a
// compatibility shim: once the backing data has been repaired the
// resolver can be replaced by Empty without touching the aggregation
// code that depends on it.
package legacy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/model"
	"github.com/subx-ng/subx-core/internal/plotkey"
)

// LegacyDataResolver supplies known historical ownership records that
// are missing from the primary store.
type LegacyDataResolver interface {
	// RecordsByEmail returns the historical records of one owner.
	RecordsByEmail(email string) []model.OwnershipRecord
	// PlotSales returns the historical records sold on one plot.
	PlotSales(key plotkey.Key) []model.OwnershipRecord
}

// StaticResolver serves a fixed table.  Records are returned as copies
// with status ACTIVE; plot ids are canonicalized through the naming
// table so callers never see legacy id schemes.
type StaticResolver struct {
	byEmail map[string][]model.OwnershipRecord
	byPlot  map[plotkey.Key][]model.OwnershipRecord
}

// NewStaticResolver indexes the given records by normalized email and
// canonical plot key.
func NewStaticResolver(naming *plotkey.Naming, records []model.OwnershipRecord) *StaticResolver {
	r := &StaticResolver{
		byEmail: make(map[string][]model.OwnershipRecord),
		byPlot:  make(map[plotkey.Key][]model.OwnershipRecord),
	}
	for _, rec := range records {
		key, _ := naming.Resolve(rec.PlotID)
		rec.PlotID = key.String()
		rec.UserEmail = strings.ToLower(strings.TrimSpace(rec.UserEmail))
		rec.Status = model.RecordActive
		r.byEmail[rec.UserEmail] = append(r.byEmail[rec.UserEmail], rec)
		r.byPlot[key] = append(r.byPlot[key], rec)
	}
	return r
}

// Default returns a resolver over HistoricalPurchases.
func Default(naming *plotkey.Naming) *StaticResolver {
	return NewStaticResolver(naming, HistoricalPurchases)
}

// RecordsByEmail implements LegacyDataResolver.
func (r *StaticResolver) RecordsByEmail(email string) []model.OwnershipRecord {
	return clone(r.byEmail[strings.ToLower(strings.TrimSpace(email))])
}

// PlotSales implements LegacyDataResolver.
func (r *StaticResolver) PlotSales(key plotkey.Key) []model.OwnershipRecord {
	return clone(r.byPlot[key])
}

// Empty is a resolver with no data, used once the migration debt is paid.
type Empty struct{}

func (Empty) RecordsByEmail(string) []model.OwnershipRecord { return nil }
func (Empty) PlotSales(plotkey.Key) []model.OwnershipRecord { return nil }

// SumSqm adds up SqmOwned over records.
func SumSqm(records []model.OwnershipRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.SqmOwned)
	}
	return total
}

// IDs returns the historical ids of records, the purchase_ref an
// imported copy of each one carries.
func IDs(records []model.OwnershipRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// Unmigrated drops the records whose id is in migrated.
func Unmigrated(records []model.OwnershipRecord, migrated map[string]bool) []model.OwnershipRecord {
	var out []model.OwnershipRecord
	for _, r := range records {
		if !migrated[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func clone(in []model.OwnershipRecord) []model.OwnershipRecord {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.OwnershipRecord, len(in))
	copy(out, in)
	return out
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t.UTC()
}
