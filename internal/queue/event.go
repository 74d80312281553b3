// Package queue defines message payloads exchanged over the message broker.
package queue

import "github.com/shopspring/decimal"

// Queue names.  Both queues are durable.
const (
	PurchaseConfirmedQueue = "purchase.confirmed"
	OversellDetectedQueue  = "ownership.oversell"
)

// PurchaseConfirmedEvent is published when a purchase is confirmed and its
// ownership record written.  It contains enough information for downstream
// consumers to log, notify and generate documents without querying the
// primary database.
type PurchaseConfirmedEvent struct {
	Reference       string          `json:"reference"`
	RecordID        string          `json:"record_id"`
	PlotID          string          `json:"plot_id"`
	PlotName        string          `json:"plot_name"`
	Location        string          `json:"location"`
	PlotTotalSize   decimal.Decimal `json:"plot_total_size"`
	UserID          string          `json:"user_id"`
	UserEmail       string          `json:"user_email"`
	SqmOwned        decimal.Decimal `json:"sqm_owned"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Currency        string          `json:"currency"`
	IsReferralBonus bool            `json:"is_referral_bonus"`
	Oversold        bool            `json:"oversold"`
	ConfirmedAt     string          `json:"confirmed_at"`
}

// OversellDetectedEvent is published when a paid purchase had to be
// honored although its plot had no inventory left.  It goes to the
// operator channel for manual reconciliation.
type OversellDetectedEvent struct {
	FlagID       string          `json:"flag_id"`
	Reference    string          `json:"reference"`
	RecordID     string          `json:"record_id"`
	PlotID       string          `json:"plot_id"`
	PlotName     string          `json:"plot_name"`
	RequestedSqm decimal.Decimal `json:"requested_sqm"`
	AvailableSqm decimal.Decimal `json:"available_sqm"`
	DetectedAt   string          `json:"detected_at"`
}
