package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/legacy"
	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/model"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/repository"
)

// PortfolioService aggregates a user's ownership records.
type PortfolioService struct {
	stores          Stores
	naming          *plotkey.Naming
	legacy          legacy.LegacyDataResolver
	defaultPlotSize decimal.Decimal
	currency        string
	metrics         *metrics.Metrics
	log             *slog.Logger
	now             func() time.Time
}

// PortfolioOptions carries the optional collaborators.  DefaultPlotSize
// is the total size assumed for plots missing from the store.
type PortfolioOptions struct {
	DefaultPlotSize decimal.Decimal
	Currency        string
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

func NewPortfolioService(stores Stores, naming *plotkey.Naming, resolver legacy.LegacyDataResolver, opts PortfolioOptions) *PortfolioService {
	if resolver == nil {
		resolver = legacy.Empty{}
	}
	if !opts.DefaultPlotSize.IsPositive() {
		opts.DefaultPlotSize = decimal.NewFromInt(500)
	}
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = systemNow
	}
	return &PortfolioService{
		stores:          stores,
		naming:          naming,
		legacy:          resolver,
		defaultPlotSize: opts.DefaultPlotSize,
		currency:        opts.Currency,
		metrics:         opts.Metrics,
		log:             opts.Logger,
		now:             opts.Now,
	}
}

// Portfolio returns the user's holdings.  Records are looked up under
// both identity keys in one query, so a record carrying both is counted
// once.  The historical table is consulted only when the store has no
// record at all for the user, cancelled ones included, so a refunded
// import never brings the stale snapshot back.
func (s *PortfolioService) Portfolio(ctx context.Context, id model.UserIdentity) (model.UserPortfolio, error) {
	if id.Empty() {
		return model.UserPortfolio{}, ErrMissingIdentity
	}
	email := id.NormalizedEmail()
	userID := strings.TrimSpace(id.ID)

	records, err := s.stores.Owners.ListActiveByIdentity(ctx, userID, email)
	if err != nil {
		return model.UserPortfolio{}, err
	}
	if n := countMismatched(records, userID, email); n > 0 {
		s.log.Warn("identity mismatch", "user_id", userID, "email", email, "records", n)
		s.metrics.IdentityMismatch()
	}

	fallback := false
	if len(records) == 0 && email != "" {
		known, err := s.stores.Owners.HasAnyByIdentity(ctx, userID, email)
		if err != nil {
			return model.UserPortfolio{}, err
		}
		if hist := s.legacy.RecordsByEmail(email); !known && len(hist) > 0 {
			records = hist
			fallback = true
			s.log.Info("fallback data used", "source", metrics.SourcePortfolio, "email", email, "records", len(hist))
			s.metrics.FallbackUsed(metrics.SourcePortfolio)
		}
	}

	sizes, err := s.plotSizes(ctx)
	if err != nil {
		return model.UserPortfolio{}, err
	}
	p := s.aggregate(records, sizes)
	p.FallbackUsed = fallback
	return p, nil
}

// countMismatched counts records stored under only one of the identity's
// keys.  Such records are still returned; they are candidates for
// BackfillIdentity.
func countMismatched(records []model.OwnershipRecord, userID, email string) int {
	if userID == "" || email == "" {
		return 0
	}
	n := 0
	for _, r := range records {
		if r.UserID != userID || strings.ToLower(r.UserEmail) != email {
			n++
		}
	}
	return n
}

type plotInfo struct {
	displayName string
	totalSize   decimal.Decimal
}

func (s *PortfolioService) plotSizes(ctx context.Context) (map[string]plotInfo, error) {
	plots, err := s.stores.Plots.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]plotInfo, len(plots))
	for _, p := range plots {
		out[p.ID] = plotInfo{displayName: p.DisplayName, totalSize: p.TotalSize}
	}
	return out, nil
}

func (s *PortfolioService) aggregate(records []model.OwnershipRecord, sizes map[string]plotInfo) model.UserPortfolio {
	out := model.UserPortfolio{
		TotalSqmOwned:   decimal.Zero,
		TotalAmountPaid: decimal.Zero,
		PerPlot:         []model.PlotOwnership{},
		Records:         make([]model.OwnershipRecord, 0, len(records)),
	}
	perPlot := make(map[plotkey.Key]*model.PlotOwnership)
	for _, r := range records {
		if !r.Counts() {
			continue
		}
		key, _ := s.naming.Resolve(r.PlotID)
		r.PlotID = key.String()
		out.Records = append(out.Records, r)

		out.TotalSqmOwned = out.TotalSqmOwned.Add(r.SqmOwned)
		if !r.IsReferralBonus {
			out.TotalAmountPaid = out.TotalAmountPaid.Add(r.AmountPaid)
		}

		po, ok := perPlot[key]
		if !ok {
			info, known := sizes[key.String()]
			if !known || !info.totalSize.IsPositive() {
				info.totalSize = s.defaultPlotSize
			}
			name := s.naming.DisplayName(key)
			if !s.naming.Known(key) && info.displayName != "" {
				name = info.displayName
			}
			po = &model.PlotOwnership{PlotID: key.String(), DisplayName: name, TotalSize: info.totalSize}
			perPlot[key] = po
		}
		po.SqmOwned = po.SqmOwned.Add(r.SqmOwned)
		if !r.IsReferralBonus {
			po.AmountPaid = po.AmountPaid.Add(r.AmountPaid)
		}
	}

	keys := make([]plotkey.Key, 0, len(perPlot))
	for k := range perPlot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return plotkey.Less(keys[i], keys[j]) })
	for _, k := range keys {
		po := perPlot[k]
		po.OwnershipPercentage = po.SqmOwned.Div(po.TotalSize).Shift(2).Round(4)
		out.PerPlot = append(out.PerPlot, *po)
	}
	return out
}

// BackfillIdentity writes the missing identity key onto records stored
// under only one of them.  Both keys are required.
func (s *PortfolioService) BackfillIdentity(ctx context.Context, id model.UserIdentity) (int64, error) {
	userID := strings.TrimSpace(id.ID)
	email := id.NormalizedEmail()
	if userID == "" || email == "" {
		return 0, ErrMissingIdentity
	}
	n, err := s.stores.Owners.BackfillIdentity(ctx, userID, email, s.now())
	if err != nil {
		return 0, err
	}
	s.log.Info("identity backfilled", "user_id", userID, "email", email, "records", n)
	return n, nil
}

// RecordDocument returns what the documents of one of the caller's
// records show.  Records of other users are reported as forbidden.
func (s *PortfolioService) RecordDocument(ctx context.Context, id model.UserIdentity, recordID string) (document.Input, error) {
	if id.Empty() {
		return document.Input{}, ErrMissingIdentity
	}
	rec, err := s.stores.Owners.GetByID(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return document.Input{}, ErrRecordNotFound
	}
	if err != nil {
		return document.Input{}, err
	}
	if !recordOwnedBy(rec, id) {
		return document.Input{}, ErrForbidden
	}
	if rec.Status != model.RecordActive {
		return document.Input{}, ErrRecordNotActive
	}

	key, _ := s.naming.Resolve(rec.PlotID)
	in := document.Input{
		Record:        *rec,
		PlotName:      s.naming.DisplayName(key),
		PlotTotalSize: s.defaultPlotSize,
		OwnerEmail:    rec.UserEmail,
		Currency:      s.currency,
		IssuedAt:      rec.CreatedAt,
	}
	if in.OwnerEmail == "" {
		in.OwnerEmail = id.NormalizedEmail()
	}
	plot, err := s.stores.Plots.GetByID(ctx, key.String())
	switch {
	case err == nil:
		in.Location = plot.Location
		in.PlotTotalSize = plot.TotalSize
	case !errors.Is(err, repository.ErrNotFound):
		return document.Input{}, err
	}
	return in, nil
}

func recordOwnedBy(rec *model.OwnershipRecord, id model.UserIdentity) bool {
	if uid := strings.TrimSpace(id.ID); uid != "" && rec.UserID == uid {
		return true
	}
	email := id.NormalizedEmail()
	return email != "" && strings.EqualFold(rec.UserEmail, email)
}
