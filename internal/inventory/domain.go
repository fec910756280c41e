package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the authoritative stock record for a sellable item. Stock is a
// decimal so weighed goods (kg) and counted units share one representation.
type Product struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Stock      decimal.Decimal `json:"stock"`
	Price      decimal.Decimal `json:"price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	TrackStock bool            `json:"track_stock"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Policy controls whether stock may go below zero.
type Policy struct {
	AllowNegative bool
}

// Line is a requested deduction. An empty ProductID marks a free-text line
// that never touches stock.
type Line struct {
	ProductID string
	Title     string
	Quantity  decimal.Decimal
}

// StockChange describes the staged stock update for one tracked product.
type StockChange struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Before    decimal.Decimal `json:"before"`
	Quantity  decimal.Decimal `json:"quantity"`
	After     decimal.Decimal `json:"after"`
}

// AdjustmentInput describes a manual stock correction or a supplier delivery.
type AdjustmentInput struct {
	ProductID string
	Delta     decimal.Decimal
	Note      string
	Reference string
	Actor     string
}

// ListFilter pages through the catalogue.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

var (
	// ErrProductNotFound indicates a referenced product does not exist.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrStockInsufficient is wrapped by *StockInsufficientError.
	ErrStockInsufficient = errors.New("inventory: stock insufficient")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
)

// StockInsufficientError reports the product that blocked a deduction and what was left.
type StockInsufficientError struct {
	ProductID string
	Title     string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *StockInsufficientError) Error() string {
	name := e.Title
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("inventory: stock insufficient for %s: available %s, requested %s", name, e.Available.String(), e.Requested.String())
}

// Unwrap lets errors.Is match ErrStockInsufficient.
func (e *StockInsufficientError) Unwrap() error {
	return ErrStockInsufficient
}
