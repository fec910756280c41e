package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/money"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

func amount(p *message.Printer, d decimal.Decimal) string {
	return p.Sprint(number.Decimal(d.InexactFloat64(), number.Scale(2)))
}

func reference(e ledger.Entry) string {
	if e.OrderNumber != "" {
		return e.OrderNumber
	}
	return e.ID
}

func entryDate(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// RenderStatement prints a counterparty ledger with amounts grouped for tag.
func RenderStatement(w io.Writer, l ledger.Ledger, tag language.Tag) error {
	p := message.NewPrinter(tag)

	title := l.CounterpartyID
	if l.Counterparty != nil && l.Counterparty.FullName != "" {
		title = fmt.Sprintf("%s (%s, %s)", l.Counterparty.FullName, l.CounterpartyID, l.Counterparty.Role)
	}
	if _, err := fmt.Fprintf(w, "Statement for %s\n\n", title); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(tw, "DATE\tKIND\tREFERENCE\tAMOUNT\tPAID\tDELTA\tBALANCE\t")
	for _, e := range l.Entries {
		paid := money.MaxPaid(e.PaidAmount, e.AmountPaid)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			entryDate(e.CreatedAt), e.Kind, reference(e),
			amount(p, e.Amount), amount(p, paid), amount(p, e.Delta), amount(p, e.Balance))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d entries, balance %s\n", len(l.Entries), amount(p, l.Balance))
	if l.Counterparty == nil {
		_, err := fmt.Fprintln(w, "counterparty record not found; cached balance unavailable")
		return err
	}
	switch {
	case l.Healed:
		_, err := fmt.Fprintf(w, "cached balance corrected: %s -> %s\n", amount(p, l.Cached), amount(p, l.Balance))
		return err
	case l.HasDrift():
		_, err := fmt.Fprintf(w, "cached balance %s drifts by %s; run with --heal to correct it\n", amount(p, l.Cached), amount(p, l.Drift))
		return err
	default:
		_, err := fmt.Fprintln(w, "cached balance matches history")
		return err
	}
}

// RenderClose prints a recorded till reconciliation.
func RenderClose(w io.Writer, c treasury.DailyClose, tag language.Tag) error {
	p := message.NewPrinter(tag)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Day\t%s\n", c.Day.Format(time.DateOnly))
	fmt.Fprintf(tw, "Opening\t%s\n", amount(p, c.Opening))
	fmt.Fprintf(tw, "Inflow\t%s\n", amount(p, c.Inflow))
	fmt.Fprintf(tw, "Expenses\t%s\n", amount(p, c.Expenses))
	fmt.Fprintf(tw, "Closing\t%s\n", amount(p, c.Closing))
	fmt.Fprintf(tw, "Net sales\t%s\n", amount(p, c.DerivedNetSales))
	fmt.Fprintf(tw, "Closed by\t%s\n", c.Actor)
	return tw.Flush()
}
