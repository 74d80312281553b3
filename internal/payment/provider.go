// Package payment talks to the payment provider.  The core only cares
// about three things: starting a checkout for a purchase reference,
// asking the provider what happened to it, and trusting signed webhook
// notifications.
package payment

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Transaction statuses reported by the provider.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
	StatusPending   = "pending"
	StatusOngoing   = "ongoing"
)

// EventChargeSuccess is the webhook event sent when a charge settles.
const EventChargeSuccess = "charge.success"

var (
	// ErrInvalidSignature is returned for webhook payloads whose
	// signature does not match the shared secret.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrProvider wraps every non-successful provider response.
	ErrProvider = errors.New("payment: provider error")
	// ErrMalformedEvent is returned for webhook payloads that cannot be
	// decoded into an Event.
	ErrMalformedEvent = errors.New("payment: malformed webhook event")
)

// InitializeRequest starts a checkout.  Amount is in major currency units.
type InitializeRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]any
}

// InitializeResponse carries what the client needs to open the checkout.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the provider's view of one transaction.
type Verification struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
	Currency  string
}

// Succeeded reports whether the charge settled.
func (v Verification) Succeeded() bool { return v.Status == StatusSuccess }

// Settled reports whether the transaction reached a final outcome.
func (v Verification) Settled() bool {
	switch v.Status {
	case StatusSuccess, StatusFailed, StatusAbandoned, StatusReversed:
		return true
	}
	return false
}

// Event is a parsed webhook notification.
type Event struct {
	Type      string
	Reference string
	Status    string
	Amount    decimal.Decimal
	Currency  string
}

// Provider is the payment provider boundary.
type Provider interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error)
	Verify(ctx context.Context, reference string) (Verification, error)
	VerifySignature(payload []byte, signature string) bool
	ParseEvent(payload []byte) (Event, error)
}

// ToMinor converts major units to the provider's minor units (kobo),
// rounding half away from zero.
func ToMinor(amount decimal.Decimal) int64 { return amount.Shift(2).Round(0).IntPart() }

// FromMinor converts minor units back to major units.
func FromMinor(amount int64) decimal.Decimal { return decimal.New(amount, -2) }
