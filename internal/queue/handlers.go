package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/model"
)

// Log files written by the consumers, relative to their log directory.
const (
	PurchaseLogFile       = "purchases.log"
	ReconciliationLogFile = "reconciliation.log"
)

// DocumentIssuer renders and stores the documents of a new record.
type DocumentIssuer interface {
	IssueAll(ctx context.Context, in document.Input) error
}

// ConfirmedHandler issues documents for a confirmed purchase and appends
// a line to the purchase log.  A document failure is logged but does not
// reject the message; documents are also rendered lazily on download.
func ConfirmedHandler(dir string, docs DocumentIssuer, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, body []byte) error {
		var ev PurchaseConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Wrap(err, "unmarshal purchase event")
		}
		if docs != nil && ev.RecordID != "" {
			if err := docs.IssueAll(ctx, DocumentInput(ev)); err != nil {
				log.Warn("issue documents failed", "record_id", ev.RecordID, "err", err)
			}
		}
		return appendLine(dir, PurchaseLogFile, FormatConfirmed(ev))
	}
}

// OversellHandler appends a line to the reconciliation log.
func OversellHandler(dir string, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(_ context.Context, body []byte) error {
		var ev OversellDetectedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Wrap(err, "unmarshal oversell event")
		}
		log.Error("oversell pending reconciliation", "flag_id", ev.FlagID, "plot_id", ev.PlotID, "reference", ev.Reference)
		return appendLine(dir, ReconciliationLogFile, FormatOversell(ev))
	}
}

// DocumentInput maps an event to the fields a document shows.
func DocumentInput(ev PurchaseConfirmedEvent) document.Input {
	at, _ := time.Parse(time.RFC3339, ev.ConfirmedAt)
	return document.Input{
		Record: model.OwnershipRecord{
			ID:              ev.RecordID,
			PlotID:          ev.PlotID,
			UserID:          ev.UserID,
			UserEmail:       ev.UserEmail,
			SqmOwned:        ev.SqmOwned,
			AmountPaid:      ev.AmountPaid,
			Status:          model.RecordActive,
			IsReferralBonus: ev.IsReferralBonus,
			PurchaseRef:     ev.Reference,
			CreatedAt:       at,
			UpdatedAt:       at,
		},
		PlotName:      ev.PlotName,
		Location:      ev.Location,
		PlotTotalSize: ev.PlotTotalSize,
		OwnerEmail:    ev.UserEmail,
		Currency:      ev.Currency,
		IssuedAt:      at,
	}
}

// FormatConfirmed renders the single-line purchase log entry.
func FormatConfirmed(ev PurchaseConfirmedEvent) string {
	return fmt.Sprintf("[%s] Purchase confirmed | reference=%s | record_id=%s | plot=%q | user_id=%s | email=%s | sqm=%s | amount=%s %s | oversold=%t\n",
		ev.ConfirmedAt, ev.Reference, ev.RecordID, ev.PlotName, ev.UserID, ev.UserEmail,
		ev.SqmOwned.StringFixed(2), ev.AmountPaid.StringFixed(2), ev.Currency, ev.Oversold)
}

// FormatOversell renders the single-line reconciliation log entry.
func FormatOversell(ev OversellDetectedEvent) string {
	return fmt.Sprintf("[%s] OVERSELL | flag_id=%s | reference=%s | record_id=%s | plot=%q | requested=%s | available=%s\n",
		ev.DetectedAt, ev.FlagID, ev.Reference, ev.RecordID, ev.PlotName, ev.RequestedSqm.StringFixed(2), ev.AvailableSqm.StringFixed(2))
}

func appendLine(dir, name, line string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir logs")
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return errors.Wrap(err, "write log")
	}
	return nil
}
