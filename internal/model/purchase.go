package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseState is the state of a purchase transaction.  Idle is
// implicit (no row exists yet).
type PurchaseState string

const (
	PurchaseAwaitingPayment PurchaseState = "AWAITING_PAYMENT"
	PurchaseConfirmed       PurchaseState = "CONFIRMED"
	PurchaseFailed          PurchaseState = "FAILED"
	PurchaseCancelled       PurchaseState = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s PurchaseState) Terminal() bool {
	return s == PurchaseConfirmed || s == PurchaseFailed || s == PurchaseCancelled
}

// Purchase tracks one buy from hand-off to the payment provider until
// the provider's callback.  While AWAITING_PAYMENT the requested square
// meters are held against the plot's available counter; the hold is
// released on FAILED/CANCELLED or when ExpiresAt passes.
//
// Fields:
//
//	ID        – primary key.
//	Reference – unique idempotency reference sent to the payment provider.
//	PlotID    – canonical storage id of the plot.
//	UserID    – buyer identity subject.
//	UserEmail – buyer email.
//	Sqm       – requested square meters.
//	Amount    – Sqm * PricePerSqm at initiation time.
//	Currency  – ISO currency code.
//	State     – current state.
//	RecordID  – ownership record created on confirmation.
//	Oversold  – set when the confirmation had to be honored past the
//	            plot's available inventory.
//	ExpiresAt – hold expiry.
type Purchase struct {
	ID        string          `json:"id"`
	Reference string          `json:"reference"`
	PlotID    string          `json:"plot_id"`
	UserID    string          `json:"user_id"`
	UserEmail string          `json:"user_email"`
	Sqm       decimal.Decimal `json:"sqm"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	State     PurchaseState   `json:"state"`
	RecordID  string          `json:"record_id,omitempty"`
	Oversold  bool            `json:"oversold"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired reports whether the hold has passed its expiry at now.
func (p Purchase) Expired(now time.Time) bool { return !p.ExpiresAt.After(now) }

// ReconciliationFlag is a manual-review entry raised when a paid
// purchase had to be honored although the plot had no inventory left.
type ReconciliationFlag struct {
	ID                string          `json:"id"`
	PlotID            string          `json:"plot_id"`
	PurchaseReference string          `json:"purchase_reference"`
	RecordID          string          `json:"record_id"`
	RequestedSqm      decimal.Decimal `json:"requested_sqm"`
	AvailableSqm      decimal.Decimal `json:"available_sqm"`
	Status            string          `json:"status"`
	Note              string          `json:"note,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// Reconciliation flag status values.
const (
	FlagOpen     = "OPEN"
	FlagResolved = "RESOLVED"
)
