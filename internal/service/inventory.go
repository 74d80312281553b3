package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/legacy"
	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/model"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/repository"
)

// Availability is the recomputed inventory of one plot.
//
// AvailableSqm is total size minus every active record and every
// historical sale not yet imported into the store.  PurchasableSqm
// additionally subtracts sqm held by purchases awaiting payment.
type Availability struct {
	PlotID         string          `json:"plot_id"`
	DisplayName    string          `json:"display_name"`
	TotalSize      decimal.Decimal `json:"total_size"`
	PricePerSqm    decimal.Decimal `json:"price_per_sqm"`
	OwnedSqm       decimal.Decimal `json:"owned_sqm"`
	LegacySqm      decimal.Decimal `json:"legacy_sqm"`
	HeldSqm        decimal.Decimal `json:"held_sqm"`
	AvailableSqm   decimal.Decimal `json:"available_sqm"`
	PurchasableSqm decimal.Decimal `json:"purchasable_sqm"`
	FallbackUsed   bool            `json:"fallback_used"`
	FromCache      bool            `json:"from_cache"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// InventoryService computes plot availability from ownership records.
// The plots.available_size column is never read as the answer.
type InventoryService struct {
	stores  Stores
	naming  *plotkey.Naming
	legacy  legacy.LegacyDataResolver
	cache   AvailabilityCache
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// InventoryOptions carries the optional collaborators.
type InventoryOptions struct {
	Cache   AvailabilityCache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewInventoryService(stores Stores, naming *plotkey.Naming, resolver legacy.LegacyDataResolver, opts InventoryOptions) *InventoryService {
	if resolver == nil {
		resolver = legacy.Empty{}
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryAvailabilityCache()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = systemNow
	}
	return &InventoryService{
		stores:  stores,
		naming:  naming,
		legacy:  resolver,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
	}
}

// Resolve maps a raw plot reference to its canonical key.
func (s *InventoryService) Resolve(plotRef string) (plotkey.Key, error) {
	key, _ := s.naming.Resolve(plotRef)
	if key == "" {
		return "", ErrPlotNotFound
	}
	return key, nil
}

// AvailableSqm recomputes the availability of a plot.  When the store
// cannot be read, the last value computed for the plot is returned with
// FromCache set; with nothing cached the store error is returned.
func (s *InventoryService) AvailableSqm(ctx context.Context, plotRef string) (Availability, error) {
	key, err := s.Resolve(plotRef)
	if err != nil {
		return Availability{}, err
	}
	plot, err := s.stores.Plots.GetByID(ctx, key.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Availability{}, ErrPlotNotFound
		}
		return s.fromCache(ctx, key, err)
	}
	a, err := s.compute(ctx, plot)
	if err != nil {
		return s.fromCache(ctx, key, err)
	}
	s.cache.Set(ctx, a)
	return a, nil
}

func (s *InventoryService) fromCache(ctx context.Context, key plotkey.Key, cause error) (Availability, error) {
	cached, ok := s.cache.Get(ctx, key.String())
	if !ok {
		return Availability{}, errors.Wrapf(cause, "compute availability of plot %s", key)
	}
	s.log.Warn("availability served from cache",
		"plot_id", key.String(), "computed_at", cached.ComputedAt, "err", cause)
	s.metrics.CacheHit()
	cached.FromCache = true
	return cached, nil
}

func (s *InventoryService) compute(ctx context.Context, plot *model.Plot) (Availability, error) {
	key := plotkey.Key(plot.ID)
	aliases := s.naming.Aliases(key)

	owned, err := s.stores.Owners.SumActiveByPlot(ctx, aliases)
	if err != nil {
		return Availability{}, err
	}
	legacySqm, used, err := s.legacyContribution(ctx, key)
	if err != nil {
		return Availability{}, err
	}
	held, err := s.stores.Purchases.SumHeldByPlot(ctx, plot.ID)
	if err != nil {
		return Availability{}, err
	}

	available := decimal.Max(decimal.Zero, plot.TotalSize.Sub(owned).Sub(legacySqm))
	return Availability{
		PlotID:         plot.ID,
		DisplayName:    s.displayName(plot),
		TotalSize:      plot.TotalSize,
		PricePerSqm:    plot.PricePerSqm,
		OwnedSqm:       owned,
		LegacySqm:      legacySqm,
		HeldSqm:        held,
		AvailableSqm:   available,
		PurchasableSqm: decimal.Max(decimal.Zero, available.Sub(held)),
		FallbackUsed:   used,
		ComputedAt:     s.now(),
	}, nil
}

// legacyContribution returns the historical sqm sold on a plot and not
// yet imported.  Each historical sale stops applying once a stored
// record, in any status, carries its id as purchase_ref.
func (s *InventoryService) legacyContribution(ctx context.Context, key plotkey.Key) (decimal.Decimal, bool, error) {
	sales := s.legacy.PlotSales(key)
	if len(sales) == 0 {
		return decimal.Zero, false, nil
	}
	migrated, err := s.stores.Owners.MigratedRefs(ctx, legacy.IDs(sales))
	if err != nil {
		return decimal.Zero, false, err
	}
	pending := legacy.Unmigrated(sales, migrated)
	if len(pending) == 0 {
		return decimal.Zero, false, nil
	}
	sqm := legacy.SumSqm(pending)
	s.log.Info("fallback data used", "source", metrics.SourceInventory, "plot_id", key.String(), "sqm", sqm, "records", len(pending))
	s.metrics.FallbackUsed(metrics.SourceInventory)
	return sqm, true, nil
}

func (s *InventoryService) displayName(plot *model.Plot) string {
	key := plotkey.Key(plot.ID)
	if s.naming.Known(key) {
		return s.naming.DisplayName(key)
	}
	if plot.DisplayName != "" {
		return plot.DisplayName
	}
	return s.naming.DisplayName(key)
}

// List returns the availability of every plot, ordered by plot id.  It
// replaces client-side refresh passes with one server-side aggregation.
func (s *InventoryService) List(ctx context.Context) ([]Availability, error) {
	plots, err := s.stores.Plots.List(ctx)
	if err != nil {
		return s.listFromCache(ctx, err)
	}
	out := make([]Availability, 0, len(plots))
	for i := range plots {
		a, err := s.compute(ctx, &plots[i])
		if err != nil {
			return s.listFromCache(ctx, err)
		}
		s.cache.Set(ctx, a)
		out = append(out, a)
	}
	return out, nil
}

func (s *InventoryService) listFromCache(ctx context.Context, cause error) ([]Availability, error) {
	var out []Availability
	for _, e := range s.naming.Entries() {
		a, err := s.fromCache(ctx, plotkey.Key(e.StorageID), cause)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, errors.Wrap(cause, "list availability")
	}
	return out, nil
}

// Catalog returns the static plot attributes, display names resolved.
func (s *InventoryService) Catalog(ctx context.Context) ([]model.Plot, error) {
	plots, err := s.stores.Plots.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plots {
		plots[i].DisplayName = s.displayName(&plots[i])
	}
	return plots, nil
}

// Reconcile rebuilds the plot's cached available_size counter from
// ownership records and open holds in one statement, then returns the
// recomputed availability.
func (s *InventoryService) Reconcile(ctx context.Context, plotRef string) (Availability, error) {
	key, err := s.Resolve(plotRef)
	if err != nil {
		return Availability{}, err
	}
	err = s.stores.Plots.Reconcile(ctx, repository.ReconcileInput{
		PlotID:  key.String(),
		Aliases: s.naming.Aliases(key),
		Legacy:  s.legacy.PlotSales(key),
		Now:     s.now(),
	})
	if errors.Is(err, repository.ErrNotFound) {
		return Availability{}, ErrPlotNotFound
	}
	if err != nil {
		return Availability{}, err
	}
	s.log.Info("plot counter reconciled", "plot_id", key.String())
	return s.AvailableSqm(ctx, key.String())
}
