package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus enumerates the lifecycle states of an OwnershipRecord.
// Only Active records count toward inventory and portfolio totals.
type RecordStatus string

const (
	RecordActive    RecordStatus = "ACTIVE"
	RecordPending   RecordStatus = "PENDING"
	RecordCancelled RecordStatus = "CANCELLED"
)

// OwnershipRecord is one purchase event: a user's fractional holding of
// a plot created by exactly one confirmed purchase (or credited as a
// referral bonus).  Records are append-only; only Status changes after
// creation.
//
// Fields:
//
//	ID              – unique identifier generated at write time.
//	PlotID          – plot reference as stored.  Historical rows may use
//	                  the display number ("77") instead of the storage id.
//	UserID          – identity provider subject (may be empty on legacy rows).
//	UserEmail       – owner email (may be empty on newer rows).
//	SqmOwned        – square meters purchased in this transaction.
//	AmountPaid      – currency amount charged.
//	Status          – ACTIVE, PENDING or CANCELLED.
//	IsReferralBonus – bonus credit; excluded from monetary totals.
//	PurchaseRef     – payment reference of the purchase that created it.
//	                  Rows imported from the historical table carry the
//	                  historical id here (e.g. "legacy-0001").
//	CreatedAt       – immutable creation timestamp.
//	UpdatedAt       – last status change.
type OwnershipRecord struct {
	ID              string          `json:"id"`                // ownership_records.id
	PlotID          string          `json:"plot_id"`           // ownership_records.plot_id
	UserID          string          `json:"user_id,omitempty"` // ownership_records.user_id (nullable)
	UserEmail       string          `json:"user_email,omitempty"`
	SqmOwned        decimal.Decimal `json:"sqm_owned"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Status          RecordStatus    `json:"status"`
	IsReferralBonus bool            `json:"is_referral_bonus"`
	PurchaseRef     string          `json:"purchase_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Counts reports whether the record participates in inventory and
// portfolio totals.
func (r OwnershipRecord) Counts() bool { return r.Status == RecordActive }
