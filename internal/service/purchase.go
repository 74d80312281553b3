package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/metrics"
	"github.com/subx-ng/subx-core/internal/model"
	"github.com/subx-ng/subx-core/internal/payment"
	"github.com/subx-ng/subx-core/internal/plotkey"
	"github.com/subx-ng/subx-core/internal/queue"
	"github.com/subx-ng/subx-core/internal/repository"
)

// minSqm is the smallest purchasable quantity.
var minSqm = decimal.NewFromInt(1)

// Outcome is the result a payment callback reports.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Notifier receives purchase events after they are committed.  Delivery
// is best-effort: errors are logged and never undo the purchase.
type Notifier interface {
	PurchaseConfirmed(ctx context.Context, ev queue.PurchaseConfirmedEvent) error
	OversellDetected(ctx context.Context, ev queue.OversellDetectedEvent) error
}

type nopNotifier struct{}

func (nopNotifier) PurchaseConfirmed(context.Context, queue.PurchaseConfirmedEvent) error { return nil }
func (nopNotifier) OversellDetected(context.Context, queue.OversellDetectedEvent) error   { return nil }

// PurchaseService runs the purchase state machine:
//
//	AWAITING_PAYMENT -> CONFIRMED | FAILED | CANCELLED
//
// A purchase in AWAITING_PAYMENT holds its sqm on the plot counter.  The
// hold is taken by a conditional decrement, so concurrent purchases of
// one plot are ordered by the store and can never jointly exceed it.
type PurchaseService struct {
	stores    Stores
	inventory *InventoryService
	naming    *plotkey.Naming
	provider  payment.Provider
	notifier  Notifier
	currency  string
	holdTTL   time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// PurchaseOptions carries tuning values and optional collaborators.
type PurchaseOptions struct {
	Currency string
	HoldTTL  time.Duration
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewPurchaseService(stores Stores, inventory *InventoryService, naming *plotkey.Naming, provider payment.Provider, opts PurchaseOptions) *PurchaseService {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 30 * time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = systemNow
	}
	return &PurchaseService{
		stores:    stores,
		inventory: inventory,
		naming:    naming,
		provider:  provider,
		notifier:  opts.Notifier,
		currency:  opts.Currency,
		holdTTL:   opts.HoldTTL,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// InitiateResult is returned to the buyer to open the checkout.
type InitiateResult struct {
	Purchase         model.Purchase `json:"purchase"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code"`
}

// Initiate validates the requested sqm against freshly computed
// availability, reserves it on the plot and opens a checkout with the
// payment provider.  sqm is taken at the column scale of two decimals.
func (s *PurchaseService) Initiate(ctx context.Context, id model.UserIdentity, plotRef string, sqm decimal.Decimal) (InitiateResult, error) {
	if id.Empty() {
		return InitiateResult{}, ErrMissingIdentity
	}
	avail, err := s.inventory.AvailableSqm(ctx, plotRef)
	if err != nil {
		return InitiateResult{}, err
	}
	sqm = sqm.Round(2)
	if sqm.LessThan(minSqm) || sqm.GreaterThan(avail.AvailableSqm) {
		s.metrics.Purchase(metrics.OutcomeRejected)
		return InitiateResult{}, &InventoryError{PlotID: avail.PlotID, Requested: sqm, Available: avail.AvailableSqm}
	}

	now := s.now()
	p := model.Purchase{
		ID:        uuid.NewString(),
		Reference: "SUBX-" + uuid.NewString(),
		PlotID:    avail.PlotID,
		UserID:    strings.TrimSpace(id.ID),
		UserEmail: id.NormalizedEmail(),
		Sqm:       sqm,
		Currency:  s.currency,
		State:     model.PurchaseAwaitingPayment,
		ExpiresAt: now.Add(s.holdTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.stores.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.expirePlotHoldsTx(ctx, tx, p.PlotID, now); err != nil {
			return err
		}
		plot, err := s.stores.Plots.GetByIDTx(ctx, tx, p.PlotID)
		if err != nil {
			return err
		}
		ok, err := s.stores.Plots.ReserveTx(ctx, tx, p.PlotID, sqm, now)
		if err != nil {
			return err
		}
		if !ok {
			return &InventoryError{PlotID: p.PlotID, Requested: sqm, Available: decimal.Max(decimal.Zero, plot.AvailableSize)}
		}
		p.Amount = sqm.Mul(plot.PricePerSqm).Round(2)
		return s.stores.Purchases.InsertTx(ctx, tx, p)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientInventory) {
			s.metrics.Purchase(metrics.OutcomeRejected)
		}
		return InitiateResult{}, err
	}

	checkout, err := s.provider.Initialize(ctx, payment.InitializeRequest{
		Reference: p.Reference,
		Email:     p.UserEmail,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Metadata: map[string]any{
			"plot_id": p.PlotID,
			"sqm":     p.Sqm,
			"user_id": p.UserID,
		},
	})
	if err != nil {
		s.log.Warn("payment initialize failed", "reference", p.Reference, "err", err)
		if _, relErr := s.abandon(ctx, p.Reference, model.PurchaseCancelled); relErr != nil && !isClosed(relErr) {
			s.log.Error("release hold failed", "reference", p.Reference, "err", relErr)
		}
		s.metrics.Purchase(metrics.OutcomeUnavailable)
		return InitiateResult{}, errors.Wrap(ErrPaymentUnavailable, err.Error())
	}

	s.metrics.Purchase(metrics.OutcomeInitiated)
	s.log.Info("purchase initiated", "reference", p.Reference, "plot_id", p.PlotID, "sqm", sqm, "amount", p.Amount)
	return InitiateResult{Purchase: p, AuthorizationURL: checkout.AuthorizationURL, AccessCode: checkout.AccessCode}, nil
}

// Complete applies a payment outcome to a purchase.  Success confirms it
// and writes the ownership record; failure and cancellation release the
// hold without writing anything.  A purchase already in a terminal state
// is returned unchanged, except that a success arriving after the hold
// was released is still honored because the buyer has paid.
func (s *PurchaseService) Complete(ctx context.Context, reference string, outcome Outcome) (*model.Purchase, error) {
	switch outcome {
	case OutcomeSuccess:
		return s.confirm(ctx, reference)
	case OutcomeFailed:
		p, err := s.abandon(ctx, reference, model.PurchaseFailed)
		if err != nil {
			return p, mapClosed(p, err)
		}
		return p, ErrPaymentDeclined
	case OutcomeCancelled:
		p, err := s.abandon(ctx, reference, model.PurchaseCancelled)
		if err != nil {
			return p, mapClosed(p, err)
		}
		return p, ErrPaymentCancelled
	default:
		return nil, ErrInvalidOutcome
	}
}

// errClosed signals that abandon found the purchase already terminal.
var errClosed = errors.New("purchase already closed")

func isClosed(err error) bool { return errors.Is(err, errClosed) }

func mapClosed(p *model.Purchase, err error) error {
	if isClosed(err) && p != nil {
		return nil
	}
	return err
}

func (s *PurchaseService) confirm(ctx context.Context, reference string) (*model.Purchase, error) {
	var (
		p       *model.Purchase
		plot    *model.Plot
		flag    *model.ReconciliationFlag
		record  model.OwnershipRecord
		already bool
		now     = s.now()
	)
	err := s.stores.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.stores.Purchases.GetByReferenceTx(ctx, tx, reference)
		if err != nil {
			return err
		}
		if p.State == model.PurchaseConfirmed {
			already = true
			return nil
		}
		plot, err = s.stores.Plots.GetByIDTx(ctx, tx, p.PlotID)
		if err != nil {
			return err
		}

		oversold := false
		if p.State != model.PurchaseAwaitingPayment {
			// The hold was released (expiry or an earlier failure
			// callback); take the sqm again or record the oversell.
			ok, err := s.stores.Plots.ReserveTx(ctx, tx, p.PlotID, p.Sqm, now)
			if err != nil {
				return err
			}
			if !ok {
				if err := s.stores.Plots.ForceDecrementTx(ctx, tx, p.PlotID, p.Sqm, now); err != nil {
					return err
				}
				oversold = true
			}
		}

		record = model.OwnershipRecord{
			ID:          uuid.NewString(),
			PlotID:      p.PlotID,
			UserID:      p.UserID,
			UserEmail:   p.UserEmail,
			SqmOwned:    p.Sqm,
			AmountPaid:  p.Amount,
			Status:      model.RecordActive,
			PurchaseRef: p.Reference,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.stores.Owners.InsertTx(ctx, tx, record); err != nil {
			return err
		}
		if err := s.stores.Purchases.TransitionTx(ctx, tx, repository.Transition{
			Reference: p.Reference,
			From:      p.State,
			To:        model.PurchaseConfirmed,
			RecordID:  record.ID,
			Oversold:  oversold,
			Now:       now,
		}); err != nil {
			return err
		}
		if oversold {
			flag = &model.ReconciliationFlag{
				ID:                uuid.NewString(),
				PlotID:            p.PlotID,
				PurchaseReference: p.Reference,
				RecordID:          record.ID,
				RequestedSqm:      p.Sqm,
				AvailableSqm:      decimal.Max(decimal.Zero, plot.AvailableSize),
				Status:            model.FlagOpen,
				Note:              "paid after hold release; plot had insufficient inventory",
				CreatedAt:         now,
			}
			if err := s.stores.Flags.InsertTx(ctx, tx, *flag); err != nil {
				return err
			}
		}
		p.State = model.PurchaseConfirmed
		p.RecordID = record.ID
		p.Oversold = oversold
		p.UpdatedAt = now
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if errors.Is(err, repository.ErrConflict) {
		// Lost a race with another callback; report the stored state.
		return s.stores.Purchases.GetByReference(ctx, reference)
	}
	if err != nil {
		return nil, err
	}
	if already {
		return p, nil
	}

	s.metrics.Purchase(metrics.OutcomeConfirmed)
	s.log.Info("purchase confirmed", "reference", p.Reference, "plot_id", p.PlotID, "sqm", p.Sqm, "record_id", record.ID)

	name := s.naming.DisplayName(plotkey.Key(p.PlotID))
	if flag != nil {
		s.metrics.Oversell()
		s.log.Error("oversell detected", "err", ErrOversellDetected, "reference", p.Reference, "plot_id", p.PlotID,
			"requested_sqm", flag.RequestedSqm, "available_sqm", flag.AvailableSqm, "flag_id", flag.ID)
		if err := s.notifier.OversellDetected(ctx, queue.OversellDetectedEvent{
			FlagID:       flag.ID,
			Reference:    p.Reference,
			RecordID:     record.ID,
			PlotID:       p.PlotID,
			PlotName:     name,
			RequestedSqm: flag.RequestedSqm,
			AvailableSqm: flag.AvailableSqm,
			DetectedAt:   now.Format(time.RFC3339),
		}); err != nil {
			s.log.Warn("oversell notification failed", "reference", p.Reference, "err", err)
		}
	}
	if err := s.notifier.PurchaseConfirmed(ctx, queue.PurchaseConfirmedEvent{
		Reference:     p.Reference,
		RecordID:      record.ID,
		PlotID:        p.PlotID,
		PlotName:      name,
		Location:      plot.Location,
		PlotTotalSize: plot.TotalSize,
		UserID:        p.UserID,
		UserEmail:     p.UserEmail,
		SqmOwned:      p.Sqm,
		AmountPaid:    p.Amount,
		Currency:      p.Currency,
		Oversold:      p.Oversold,
		ConfirmedAt:   now.Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("purchase notification failed", "reference", p.Reference, "err", err)
	}
	return p, nil
}

// abandon moves an awaiting purchase to state and releases its hold.
// It returns errClosed with the stored purchase when the purchase has
// already left AWAITING_PAYMENT.
func (s *PurchaseService) abandon(ctx context.Context, reference string, state model.PurchaseState) (*model.Purchase, error) {
	var p *model.Purchase
	now := s.now()
	err := s.stores.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.stores.Purchases.GetByReferenceTx(ctx, tx, reference)
		if err != nil {
			return err
		}
		if p.State.Terminal() {
			return errClosed
		}
		if err := s.releaseTx(ctx, tx, p, state, now); err != nil {
			return err
		}
		p.State = state
		p.UpdatedAt = now
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if isClosed(err) || errors.Is(err, repository.ErrConflict) {
		return s.stored(ctx, reference, p)
	}
	if err != nil {
		return nil, err
	}
	switch state {
	case model.PurchaseFailed:
		s.metrics.Purchase(metrics.OutcomeFailed)
	default:
		s.metrics.Purchase(metrics.OutcomeCancelled)
	}
	s.log.Info("purchase closed", "reference", reference, "state", string(state))
	return p, nil
}

// stored reloads a purchase whose transition was pre-empted.
func (s *PurchaseService) stored(ctx context.Context, reference string, fallback *model.Purchase) (*model.Purchase, error) {
	p, err := s.stores.Purchases.GetByReference(ctx, reference)
	if err != nil {
		if fallback != nil {
			return fallback, errClosed
		}
		return nil, err
	}
	return p, errClosed
}

func (s *PurchaseService) releaseTx(ctx context.Context, tx *sql.Tx, p *model.Purchase, state model.PurchaseState, now time.Time) error {
	if err := s.stores.Purchases.TransitionTx(ctx, tx, repository.Transition{
		Reference: p.Reference,
		From:      model.PurchaseAwaitingPayment,
		To:        state,
		Now:       now,
	}); err != nil {
		return err
	}
	return s.stores.Plots.ReleaseTx(ctx, tx, p.PlotID, p.Sqm, now)
}

// expirePlotHoldsTx cancels the plot's holds that are past their expiry.
func (s *PurchaseService) expirePlotHoldsTx(ctx context.Context, tx *sql.Tx, plotID string, now time.Time) (int, error) {
	holds, err := s.stores.Purchases.ListAwaitingByPlotTx(ctx, tx, plotID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range holds {
		if !holds[i].Expired(now) {
			continue
		}
		if err := s.releaseTx(ctx, tx, &holds[i], model.PurchaseCancelled, now); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.metrics.Purchase(metrics.OutcomeExpired)
	}
	return n, nil
}

// ExpireStale releases every hold past its expiry and returns how many
// were released.  A buyer who closes the checkout without a callback
// leaves no lasting decrement.
func (s *PurchaseService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	awaiting, err := s.stores.Purchases.ListAwaiting(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range awaiting {
		p := awaiting[i]
		if !p.Expired(now) {
			continue
		}
		err := s.stores.inTx(ctx, func(tx *sql.Tx) error {
			return s.releaseTx(ctx, tx, &p, model.PurchaseCancelled, now)
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
		s.metrics.Purchase(metrics.OutcomeExpired)
		s.log.Info("purchase hold expired", "reference", p.Reference, "plot_id", p.PlotID, "sqm", p.Sqm)
	}
	return released, nil
}

// RunSweeper calls ExpireStale every interval until ctx is done.
func (s *PurchaseService) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.ExpireStale(ctx); err != nil {
				s.log.Warn("hold sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("hold sweep", "released", n)
			}
		}
	}
}

// Get returns a purchase owned by id.
func (s *PurchaseService) Get(ctx context.Context, id model.UserIdentity, reference string) (*model.Purchase, error) {
	p, err := s.stores.Purchases.GetByReference(ctx, reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if !ownedBy(p, id) {
		return nil, ErrForbidden
	}
	return p, nil
}

func ownedBy(p *model.Purchase, id model.UserIdentity) bool {
	if uid := strings.TrimSpace(id.ID); uid != "" && p.UserID == uid {
		return true
	}
	email := id.NormalizedEmail()
	return email != "" && strings.EqualFold(p.UserEmail, email)
}

// VerifyAndComplete handles the buyer's return from the checkout.  A
// reported success is only trusted once the provider confirms the charge
// for the full amount; failure and cancellation are accepted from the
// purchase owner as they are.
func (s *PurchaseService) VerifyAndComplete(ctx context.Context, id model.UserIdentity, reference string, reported Outcome) (*model.Purchase, error) {
	p, err := s.Get(ctx, id, reference)
	if err != nil {
		return nil, err
	}
	if reported != OutcomeSuccess {
		return s.Complete(ctx, reference, reported)
	}

	v, err := s.provider.Verify(ctx, reference)
	if err != nil {
		s.log.Warn("payment verify failed", "reference", reference, "err", err)
		return p, errors.Wrap(ErrPaymentUnavailable, err.Error())
	}
	switch {
	case v.Succeeded() && !v.Amount.LessThan(p.Amount):
		return s.Complete(ctx, reference, OutcomeSuccess)
	case v.Succeeded():
		s.log.Error("payment amount mismatch", "reference", reference, "expected", p.Amount, "paid", v.Amount)
		return s.Complete(ctx, reference, OutcomeFailed)
	case v.Status == payment.StatusAbandoned:
		return s.Complete(ctx, reference, OutcomeCancelled)
	case v.Settled():
		return s.Complete(ctx, reference, OutcomeFailed)
	default:
		// Still pending at the provider; the webhook will settle it.
		return p, nil
	}
}

// HandleWebhook processes a signed provider notification.  Only settled
// charges change state; other events are acknowledged and ignored.
func (s *PurchaseService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.provider.VerifySignature(payload, signature) {
		return ErrInvalidSignature
	}
	ev, err := s.provider.ParseEvent(payload)
	if err != nil {
		s.log.Warn("payment webhook undecodable", "err", err)
		return err
	}
	if ev.Type != payment.EventChargeSuccess {
		s.log.Debug("payment webhook ignored", "event", ev.Type, "reference", ev.Reference)
		return nil
	}
	p, err := s.stores.Purchases.GetByReference(ctx, ev.Reference)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPurchaseNotFound
	}
	if err != nil {
		return err
	}
	if ev.Amount.LessThan(p.Amount) {
		s.log.Error("payment amount mismatch", "reference", ev.Reference, "expected", p.Amount, "paid", ev.Amount)
		_, err := s.Complete(ctx, ev.Reference, OutcomeFailed)
		if errors.Is(err, ErrPaymentDeclined) {
			return nil
		}
		return err
	}
	_, err = s.Complete(ctx, ev.Reference, OutcomeSuccess)
	return err
}

// CancelRecord cancels a confirmed ownership record (refund or admin
// decision).  The record's sqm returns to the plot; the change cannot be
// undone, a new purchase is needed to own the sqm again.
func (s *PurchaseService) CancelRecord(ctx context.Context, recordID string) (*model.OwnershipRecord, error) {
	var rec *model.OwnershipRecord
	now := s.now()
	err := s.stores.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.stores.Owners.GetByIDTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if rec.Status != model.RecordActive {
			return ErrRecordNotActive
		}
		if err := s.stores.Owners.CancelTx(ctx, tx, recordID, now); err != nil {
			return err
		}
		key, _ := s.naming.Resolve(rec.PlotID)
		if err := s.stores.Plots.ReleaseTx(ctx, tx, key.String(), rec.SqmOwned, now); err != nil {
			return err
		}
		rec.Status = model.RecordCancelled
		rec.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrRecordNotFound
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrRecordNotActive
	case err != nil:
		return nil, err
	}
	s.log.Info("ownership record cancelled", "record_id", rec.ID, "plot_id", rec.PlotID, "sqm", rec.SqmOwned)
	return rec, nil
}

// Flags lists reconciliation flags; status may be empty.
func (s *PurchaseService) Flags(ctx context.Context, status string) ([]model.ReconciliationFlag, error) {
	return s.stores.Flags.List(ctx, status)
}

// ResolveFlag closes a reconciliation flag with an operator note.
func (s *PurchaseService) ResolveFlag(ctx context.Context, flagID, note string) (*model.ReconciliationFlag, error) {
	f, err := s.stores.Flags.Resolve(ctx, flagID, note, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrFlagNotFound
	case errors.Is(err, repository.ErrConflict):
		return f, ErrFlagResolved
	case err != nil:
		return nil, err
	}
	s.log.Info("reconciliation flag resolved", "flag_id", flagID, "reference", f.PurchaseReference)
	return f, nil
}
