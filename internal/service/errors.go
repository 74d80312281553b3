// Package service implements ownership accounting: plot availability,
// user portfolios and the purchase state machine.
package service

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/payment"
)

var (
	// ErrInsufficientInventory is returned when a purchase asks for more
	// sqm than the plot has left, or for less than one sqm.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrPaymentDeclined is returned when the provider reports a failed charge.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentCancelled is returned when the buyer abandoned the checkout.
	ErrPaymentCancelled = errors.New("payment cancelled")
	// ErrOversellDetected marks a paid purchase honored beyond the plot's
	// size.  It is never returned to buyers; it appears in logs and flags.
	ErrOversellDetected = errors.New("oversell detected")
	// ErrPaymentUnavailable is returned when the provider cannot be reached.
	ErrPaymentUnavailable = errors.New("payment provider unavailable")

	ErrPlotNotFound     = errors.New("plot not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrRecordNotFound   = errors.New("ownership record not found")
	ErrRecordNotActive  = errors.New("ownership record is not active")
	ErrFlagNotFound     = errors.New("reconciliation flag not found")
	ErrFlagResolved     = errors.New("reconciliation flag already resolved")
	ErrMissingIdentity  = errors.New("user identity required")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOutcome   = errors.New("invalid payment outcome")

	// ErrInvalidSignature is returned for webhooks that fail verification.
	ErrInvalidSignature = payment.ErrInvalidSignature
	// ErrMalformedWebhook is returned for signed webhooks that cannot be
	// decoded.  Retrying them cannot succeed.
	ErrMalformedWebhook = payment.ErrMalformedEvent
)

// InventoryError carries the figures behind an ErrInsufficientInventory.
type InventoryError struct {
	PlotID    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory on plot %s: requested %s sqm, available %s sqm",
		e.PlotID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// Is makes errors.Is(err, ErrInsufficientInventory) match.
func (e *InventoryError) Is(target error) bool { return target == ErrInsufficientInventory }
