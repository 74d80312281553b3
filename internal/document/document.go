// Package document renders ownership documents (receipt, deed and
// certificate) and keeps them in a blob bucket.
package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/model"
)

// Kind names one of the documents issued for an ownership record.
type Kind string

const (
	KindReceipt     Kind = "receipt"
	KindDeed        Kind = "deed"
	KindCertificate Kind = "certificate"
)

// Kinds lists every document issued on confirmation.
var Kinds = []Kind{KindReceipt, KindDeed, KindCertificate}

var ErrUnknownKind = errors.New("unknown document kind")

// ParseKind validates a kind taken from a URL.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Input is everything a document shows.
type Input struct {
	Record        model.OwnershipRecord
	PlotName      string
	Location      string
	PlotTotalSize decimal.Decimal
	OwnerEmail    string
	Currency      string
	IssuedAt      time.Time
}

// Percentage is the record's share of the plot in percent, rounded to
// two decimal places.
func (in Input) Percentage() decimal.Decimal {
	if !in.PlotTotalSize.IsPositive() {
		return decimal.Zero
	}
	return in.Record.SqmOwned.Div(in.PlotTotalSize).Shift(2).Round(2)
}

// Document is a rendered file.
type Document struct {
	Kind        Kind
	Filename    string
	ContentType string
	Body        []byte
}

// Generator renders documents.
type Generator interface {
	Generate(kind Kind, in Input) (Document, error)
}

func filename(kind Kind, recordID string) string {
	return fmt.Sprintf("subx-%s-%s.pdf", kind, recordID)
}
