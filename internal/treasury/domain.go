// Package treasury records cash and bank movements and reconciles the till at day end.
package treasury

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType separates the till from the bank account.
type MovementType string

const (
	// MovementCash is money through the till.
	MovementCash MovementType = "cash"
	// MovementBank is money through the bank account.
	MovementBank MovementType = "bank"
)

// Operation is the direction of a movement.
type Operation string

const (
	// OperationCredit is money in.
	OperationCredit Operation = "credit"
	// OperationDebit is money out.
	OperationDebit Operation = "debit"
)

// Movement is an append-only treasury record.
type Movement struct {
	ID          string          `json:"id"`
	Type        MovementType    `json:"type"`
	Operation   Operation       `json:"operation"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	RelatedID   string          `json:"related_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Signed returns the amount with credits positive and debits negative.
func (m Movement) Signed() decimal.Decimal {
	if m.Operation == OperationDebit {
		return m.Amount.Neg()
	}
	return m.Amount
}

// MovementFilter selects movements in a half-open time window.
type MovementFilter struct {
	From  time.Time
	To    time.Time
	Type  MovementType
	Limit int
}

// DailyCloseInput carries the till figures counted at day end. Inflow is
// money that entered the till from non-sales sources.
type DailyCloseInput struct {
	Day      time.Time       `json:"day"`
	Opening  decimal.Decimal `json:"opening"`
	Inflow   decimal.Decimal `json:"inflow"`
	Expenses decimal.Decimal `json:"expenses"`
	Closing  decimal.Decimal `json:"closing"`
	Notes    string          `json:"notes"`
}

// DailyClose is the persisted result of a till reconciliation.
type DailyClose struct {
	DailyCloseInput
	DerivedNetSales decimal.Decimal `json:"derived_net_sales"`
	Actor           string          `json:"actor"`
	ClosedAt        time.Time       `json:"closed_at"`
}

var (
	// ErrInvalidMovement indicates a movement with a bad type, operation or amount.
	ErrInvalidMovement = errors.New("treasury: invalid movement")
	// ErrInvalidClose indicates negative or missing till figures.
	ErrInvalidClose = errors.New("treasury: invalid daily close")
	// ErrDayAlreadyClosed is returned when the day has a close on record.
	ErrDayAlreadyClosed = errors.New("treasury: day already closed")
)
