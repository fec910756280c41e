// Package money holds the decimal arithmetic shared by the ledger, its CLI
// and the invoice writer.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Outstanding returns the part of amount that was not settled up front.
func Outstanding(amount, paid decimal.Decimal) decimal.Decimal {
	return amount.Sub(paid)
}

// MaxPaid picks the authoritative paid-in-advance figure from the two legacy order fields.
func MaxPaid(a, b decimal.Decimal) decimal.Decimal {
	return decimal.Max(a, b)
}

// Contribution is the signed effect of one ledger line on what a counterparty
// owes: a payment settles its full amount, anything else adds what was not
// paid up front.
func Contribution(payment bool, amount, paid decimal.Decimal) decimal.Decimal {
	if payment {
		return amount.Neg()
	}
	return Outstanding(amount, paid)
}

// Parse reads a decimal from user input, accepting a comma as decimal separator.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return d, nil
}
