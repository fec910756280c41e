package treasury

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DerivedNetSales backs sales out of the till count:
// (closing + expenses) - (opening + inflow).
func DerivedNetSales(opening, inflow, expenses, closing decimal.Decimal) decimal.Decimal {
	return closing.Add(expenses).Sub(opening.Add(inflow))
}

// Close validates the counted figures and computes the derived net sales.
func Close(input DailyCloseInput) (DailyClose, error) {
	if input.Day.IsZero() {
		return DailyClose{}, fmt.Errorf("%w: day required", ErrInvalidClose)
	}
	for name, v := range map[string]decimal.Decimal{
		"opening":  input.Opening,
		"inflow":   input.Inflow,
		"expenses": input.Expenses,
		"closing":  input.Closing,
	} {
		if v.IsNegative() {
			return DailyClose{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidClose, name)
		}
	}
	input.Day = truncateDay(input.Day)
	return DailyClose{
		DailyCloseInput: input,
		DerivedNetSales: DerivedNetSales(input.Opening, input.Inflow, input.Expenses, input.Closing),
	}, nil
}

// Totals sums movements per direction.
type Totals struct {
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Net     decimal.Decimal `json:"net"`
}

// Summarize totals a set of movements.
func Summarize(movements []Movement) Totals {
	t := Totals{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, m := range movements {
		switch m.Operation {
		case OperationCredit:
			t.Credits = t.Credits.Add(m.Amount)
		case OperationDebit:
			t.Debits = t.Debits.Add(m.Amount)
		}
	}
	t.Net = t.Credits.Sub(t.Debits)
	return t
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
