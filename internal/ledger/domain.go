package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

// Kind tags a financial event.
type Kind string

const (
	// KindInvoice is a sale (or a purchase, for suppliers) that creates debt.
	KindInvoice Kind = "INVOICE"
	// KindPayment settles debt.
	KindPayment Kind = "PAYMENT"
	// KindOrder marks a legacy order shown in the ledger as an invoice.
	KindOrder Kind = "ORDER"
)

// Role distinguishes the two kinds of counterparty.
type Role string

const (
	// RoleClient is a restaurant or shop buying from the business.
	RoleClient Role = "client"
	// RoleSupplier sells to the business.
	RoleSupplier Role = "supplier"
)

// Source records where a reconstructed entry came from.
type Source string

const (
	// SourceEvent is an explicit financial event.
	SourceEvent Source = "transaction"
	// SourceOrder is a legacy order with no linked event.
	SourceOrder Source = "order"
	// SourceCombined is an event merged with the order it references.
	SourceCombined Source = "combined"
)

// LineItem is one product line on an invoice or order. An empty ProductID
// marks a free-text line.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title" validate:"max=200"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

// Counterparty is a client or supplier with a cached running balance.
// CurrentDebt is positive when a client owes the business, and positive when
// the business owes a supplier. TotalDebt is lifetime gross and never decreases.
type Counterparty struct {
	ID                  string          `json:"id"`
	FullName            string          `json:"full_name"`
	Role                Role            `json:"role"`
	CurrentDebt         decimal.Decimal `json:"current_debt"`
	TotalDebt           decimal.Decimal `json:"total_debt"`
	LastTransactionDate time.Time       `json:"last_transaction_date,omitempty"`
	Version             int64           `json:"version"`
}

// Event is an immutable financial record.
type Event struct {
	ID              string          `json:"id"`
	CounterpartyID  string          `json:"counterparty_id"`
	Kind            Kind            `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Items           []LineItem      `json:"items"`
	OrderID         string          `json:"order_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Order is a legacy order record. The paid-in-advance figure was historically
// written under two different fields; absent values are zero.
type Order struct {
	ID         string          `json:"id"`
	Number     string          `json:"order_number"`
	CustomerID string          `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Items      []LineItem      `json:"items"`
	Status     string          `json:"status,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Entry is one line of a reconstructed ledger.
type Entry struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Source      Source          `json:"source"`
	OrderID     string          `json:"order_id,omitempty"`
	OrderNumber string          `json:"order_number,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Items       []LineItem      `json:"items"`
	Status      string          `json:"status,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Delta       decimal.Decimal `json:"delta"`
	Balance     decimal.Decimal `json:"balance"`
}

// Ledger is the chronological history of a counterparty plus its recomputed
// balance. Cached and Drift are only meaningful when Counterparty is set.
type Ledger struct {
	CounterpartyID string          `json:"counterparty_id"`
	Counterparty   *Counterparty   `json:"counterparty,omitempty"`
	Entries        []Entry         `json:"entries"`
	Balance        decimal.Decimal `json:"balance"`
	Cached         decimal.Decimal `json:"cached_balance"`
	Drift          decimal.Decimal `json:"drift"`
	Healed         bool            `json:"healed"`
}

// HasDrift reports whether the cached balance disagrees with history.
func (l Ledger) HasDrift() bool {
	return l.Counterparty != nil && !l.Drift.IsZero()
}

// InvoiceInput is the caller supplied part of an invoice.
type InvoiceInput struct {
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	Items   []LineItem      `json:"items" validate:"dive"`
	Notes   string          `json:"notes" validate:"max=2000"`
	OrderID string          `json:"order_id"`
}

// PaymentInput settles part of a counterparty's debt.
type PaymentInput struct {
	CounterpartyID string                `json:"counterparty_id" validate:"required"`
	Amount         decimal.Decimal       `json:"amount" validate:"gt=0"`
	Method         treasury.MovementType `json:"method" validate:"omitempty,oneof=cash bank"`
	Notes          string                `json:"notes" validate:"max=2000"`
}

// InvoiceReceipt is everything an invoice committed.
type InvoiceReceipt struct {
	Event        Event                   `json:"event"`
	Counterparty Counterparty            `json:"counterparty"`
	Movement     *treasury.Movement      `json:"movement,omitempty"`
	StockChanges []inventory.StockChange `json:"stock_changes"`
}

// PaymentReceipt is everything a payment committed.
type PaymentReceipt struct {
	Event        Event             `json:"event"`
	Counterparty Counterparty      `json:"counterparty"`
	Movement     treasury.Movement `json:"movement"`
}

// BuildOptions controls ledger reconstruction.
type BuildOptions struct {
	// Persist allows the cached balance to be corrected when it drifted.
	Persist bool
}

func (li LineItem) inventoryLine() inventory.Line {
	return inventory.Line{ProductID: li.ProductID, Title: li.Title, Quantity: li.Quantity}
}
