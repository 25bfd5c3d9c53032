/*
Package render produces printable documents from ledger records.

PURPOSE:
  A labor receipt is handed to the salesperson and kept by finance. The PDF
  shows gross, both deductions, net and the rates that were applied, all
  read from the stored receipt so a reprint years later matches the
  original.

SEE ALSO:
  - api/handlers.go: GET /api/receipts/{id}/pdf
*/
package render

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// ReceiptDocument is what goes on the page.
type ReceiptDocument struct {
	IssuerName string
	Receipt    ledger.Receipt
	Payout     ledger.Payout
}

// ReceiptPDF renders doc as a single-page PDF.
func ReceiptPDF(doc ReceiptDocument) ([]byte, error) {
	r := doc.Receipt
	if r.ID == "" {
		return nil, fmt.Errorf("render receipt: missing receipt id")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Labor Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, string(r.Status), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Receipt: "+string(r.ID), props.Text{Top: 0}),
			text.New("Payout: "+string(r.PayoutID), props.Text{Top: 5}),
			text.New("Entitlement: "+string(r.EntitlementID), props.Text{Top: 10}),
			text.New("Paid on: "+doc.Payout.PaidOn.String(), props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Issued by", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(doc.IssuerName, props.Text{Top: 5, Align: align.Right}),
			text.New("Payee: "+r.SalespersonID, props.Text{Top: 10, Align: align.Right}),
			text.New("Issued at: "+r.IssuedAt.Format("2006-01-02 15:04 MST"), props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Rate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	lines := []struct {
		label  string
		rate   string
		amount decimal.Decimal
	}{
		{"Gross commission", "", r.GrossAmount},
		{"Income tax withheld", percent(r.WithholdingRate), r.TaxAmount.Neg()},
		{"Supplementary insurance", percent(r.InsuranceRate), r.InsuranceAmount.Neg()},
	}
	for _, line := range lines {
		m.AddRow(8,
			text.NewCol(6, line.label, props.Text{Size: 9}),
			text.NewCol(3, line.rate, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, line.amount.String(), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(6),
		text.NewCol(3, "Net paid", props.Text{Size: 10, Style: fontstyle.Bold, Top: 3}),
		text.NewCol(3, r.NetAmount.String(), props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right, Top: 3}),
	)

	m.AddRow(10,
		text.NewCol(12, "Rates version "+r.RateVersion, props.Text{Size: 7, Top: 4}),
	)
	if doc.Payout.Notes != "" {
		m.AddRow(8, text.NewCol(12, doc.Payout.Notes, props.Text{Size: 7}))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", r.ID, err)
	}
	return out.GetBytes(), nil
}

func percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).String() + "%"
}
