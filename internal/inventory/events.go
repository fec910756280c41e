package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventStockAdjusted is published after a manual adjustment commits.
const EventStockAdjusted = "inventory.stock_adjusted"

// StockAdjustedEvent represents a committed adjustment.
type StockAdjustedEvent struct {
	ProductID  string          `json:"product_id"`
	Title      string          `json:"title"`
	Delta      decimal.Decimal `json:"delta"`
	StockAfter decimal.Decimal `json:"stock_after"`
	Note       string          `json:"note,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	AdjustedAt time.Time       `json:"adjusted_at"`
}

// EventPublisher forwards committed domain events to the outside world.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}
