package document

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PDFGenerator renders documents with maroto.
type PDFGenerator struct {
	issuer string
}

func NewPDFGenerator(issuer string) *PDFGenerator {
	if issuer == "" {
		issuer = "Subx"
	}
	return &PDFGenerator{issuer: issuer}
}

// Generate implements Generator.
func (g *PDFGenerator) Generate(kind Kind, in Input) (Document, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	switch kind {
	case KindReceipt:
		g.receipt(m, in)
	case KindDeed:
		g.deed(m, in)
	case KindCertificate:
		g.certificate(m, in)
	default:
		return Document{}, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}

	doc, err := m.Generate()
	if err != nil {
		return Document{}, errors.Wrapf(err, "render %s", kind)
	}
	return Document{
		Kind:        kind,
		Filename:    filename(kind, in.Record.ID),
		ContentType: "application/pdf",
		Body:        doc.GetBytes(),
	}, nil
}

func (g *PDFGenerator) header(m core.Maroto, title string, in Input) {
	m.AddRow(20,
		text.NewCol(8, title, props.Text{Size: 18, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, g.issuer, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)
	m.AddRow(12,
		col.New(6).Add(
			text.New("Record: "+in.Record.ID, props.Text{Size: 9}),
			text.New("Issued: "+issued(in).Format("2 January 2006"), props.Text{Size: 9, Top: 4}),
		),
		col.New(6).Add(
			text.New("Reference: "+in.Record.PurchaseRef, props.Text{Size: 9, Align: align.Right}),
		),
	)
}

func (g *PDFGenerator) receipt(m core.Maroto, in Input) {
	g.header(m, "Payment Receipt", in)
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Sqm", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	desc := fmt.Sprintf("Sub-ownership of %s, %s", in.PlotName, in.Location)
	amount := money(in.Currency, in.Record.AmountPaid)
	if in.Record.IsReferralBonus {
		desc += " (referral bonus)"
		amount = money(in.Currency, decimal.Zero)
	}
	m.AddRow(10,
		text.NewCol(6, desc, props.Text{Size: 9}),
		text.NewCol(2, sqm(in.Record.SqmOwned), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(4, amount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(4, amount, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	m.AddRow(10, text.NewCol(12, "Paid by "+in.OwnerEmail, props.Text{Size: 9}))
}

func (g *PDFGenerator) deed(m core.Maroto, in Input) {
	g.header(m, "Deed of Sub-ownership", in)
	body := fmt.Sprintf(
		"This deed records that %s holds %s of %s (%s), a parcel of %s, "+
			"equal to %s%% of the parcel, acquired under reference %s.",
		in.OwnerEmail, sqm(in.Record.SqmOwned), in.PlotName, in.Location,
		sqm(in.PlotTotalSize), in.Percentage().StringFixed(2), in.Record.PurchaseRef)
	m.AddRow(30, text.NewCol(12, body, props.Text{Size: 10, Top: 4}))
	m.AddRow(20,
		col.New(6).Add(text.New("For "+g.issuer, props.Text{Size: 9, Top: 12})),
		col.New(6).Add(text.New("Owner", props.Text{Size: 9, Top: 12, Align: align.Right})),
	)
}

func (g *PDFGenerator) certificate(m core.Maroto, in Input) {
	g.header(m, "Certificate of Ownership", in)
	m.AddRow(20, text.NewCol(12, in.OwnerEmail, props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Center, Top: 4}))
	m.AddRow(15, text.NewCol(12,
		fmt.Sprintf("owns %s of %s (%s%%)", sqm(in.Record.SqmOwned), in.PlotName, in.Percentage().StringFixed(2)),
		props.Text{Size: 12, Align: align.Center}))
	m.AddRow(10, text.NewCol(12, in.Location, props.Text{Size: 10, Align: align.Center}))
}

func issued(in Input) time.Time {
	if !in.IssuedAt.IsZero() {
		return in.IssuedAt
	}
	return in.Record.CreatedAt
}

func sqm(v decimal.Decimal) string { return v.StringFixed(2) + " sqm" }

func money(currency string, v decimal.Decimal) string {
	if currency == "" {
		currency = "NGN"
	}
	return currency + " " + v.StringFixed(2)
}
