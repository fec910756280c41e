package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PlanDeductions computes the stock every tracked product would have after the
// lines are applied. Quantities for the same product are summed before the
// policy check. Changes are returned in first-seen line order, and the first
// product that would go negative under a strict policy aborts the plan.
func PlanDeductions(products map[string]Product, lines []Line, policy Policy) ([]StockChange, error) {
	order := make([]string, 0, len(lines))
	requested := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		if line.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, line.ProductID)
		}
		qty, seen := requested[line.ProductID]
		if !seen {
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] = qty.Add(line.Quantity)
	}

	changes := make([]StockChange, 0, len(order))
	for _, id := range order {
		product, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if !product.TrackStock {
			continue
		}
		qty := requested[id]
		after := product.Stock.Sub(qty)
		if !policy.AllowNegative && after.IsNegative() {
			return nil, &StockInsufficientError{
				ProductID: product.ID,
				Title:     product.Title,
				Available: product.Stock,
				Requested: qty,
			}
		}
		changes = append(changes, StockChange{
			ProductID: product.ID,
			Title:     product.Title,
			Before:    product.Stock,
			Quantity:  qty,
			After:     after,
		})
	}
	return changes, nil
}

// ProductIDs lists the distinct product ids referenced by lines, in first-seen order.
func ProductIDs(lines []Line) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
