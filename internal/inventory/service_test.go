package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cleaver-pos/cleaver/internal/shared"
)

type memoryRepo struct {
	products map[string]Product
}

type memoryTx struct {
	staged map[string]Product
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{products: make(map[string]Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{staged: make(map[string]Product, len(r.products))}
	for id, p := range r.products {
		tx.staged[id] = p
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.products = tx.staged
	return nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	var out []Product
	for _, p := range r.products {
		if filter.Search == "" || strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Search)) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	p, ok := tx.staged[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

func (tx *memoryTx) UpdateStock(ctx context.Context, id string, stock decimal.Decimal) error {
	p, ok := tx.staged[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	tx.staged[id] = p
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type capturedEvent struct {
	key, eventType string
	payload        any
}

type recordingPublisher struct {
	events []capturedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	p.events = append(p.events, capturedEvent{key: key, eventType: eventType, payload: payload})
	return p.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func beef(stock string) Product {
	return Product{ID: "beef", Title: "Beef shoulder", Stock: dec(stock), Price: dec("1800"), CostPrice: dec("1350"), TrackStock: true}
}

func TestAdjustDeliveryIncreasesStock(t *testing.T) {
	repo := newMemoryRepo(beef("3"))
	audit := &recordingAudit{}
	events := &recordingPublisher{}
	svc := NewService(repo, audit, nil, events, ServiceConfig{}, nil)
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	change, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: "beef", Delta: dec("12.5"), Note: "delivery", Actor: "clerk"})
	require.NoError(t, err)
	require.Equal(t, "15.5", change.After.String())
	require.Equal(t, "15.5", repo.products["beef"].Stock.String())

	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:adjust", audit.logs[0].Action)
	require.Equal(t, "clerk", audit.logs[0].Actor)

	require.Len(t, events.events, 1)
	require.Equal(t, EventStockAdjusted, events.events[0].eventType)
	evt := events.events[0].payload.(StockAdjustedEvent)
	require.Equal(t, fixed, evt.AdjustedAt)
	require.Equal(t, "15.5", evt.StockAfter.String())
}

func TestNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo(beef("1"))
	svc := NewService(repo, nil, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: "beef", Delta: dec("-2")})
	require.ErrorIs(t, err, ErrStockInsufficient)
	var stockErr *StockInsufficientError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "1", stockErr.Available.String())
	require.Equal(t, "2", stockErr.Requested.String())
	require.Equal(t, "1", repo.products["beef"].Stock.String())
}

func TestAllowNegativeStockPolicy(t *testing.T) {
	repo := newMemoryRepo(beef("1"))
	svc := NewService(repo, nil, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)
	require.True(t, svc.Policy().AllowNegative)

	change, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: "beef", Delta: dec("-2")})
	require.NoError(t, err)
	require.Equal(t, "-1", change.After.String())
}

func TestAdjustRejectsZeroAndUnknown(t *testing.T) {
	svc := NewService(newMemoryRepo(beef("1")), nil, nil, nil, ServiceConfig{}, nil)
	_, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: "beef", Delta: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Adjust(context.Background(), AdjustmentInput{ProductID: "lamb", Delta: dec("1")})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestAdjustIdempotentReference(t *testing.T) {
	repo := newMemoryRepo(beef("1"))
	idem := &memoryIdempotency{keys: map[string]bool{}}
	svc := NewService(repo, nil, idem, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: "beef", Delta: dec("5"), Reference: "DN-9"})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: "beef", Delta: dec("5"), Reference: "DN-9"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, "6", repo.products["beef"].Stock.String())

	_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: "beef", Delta: dec("-50"), Reference: "WASTE-1"})
	require.ErrorIs(t, err, ErrStockInsufficient)
	require.False(t, idem.keys["adjust:beef:WASTE-1"], "failed adjustment must release its key")
}

func TestPublishFailureDoesNotFailAdjustment(t *testing.T) {
	repo := newMemoryRepo(beef("1"))
	svc := NewService(repo, nil, nil, &recordingPublisher{err: errors.New("broker down")}, ServiceConfig{}, nil)
	_, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: "beef", Delta: dec("1")})
	require.NoError(t, err)
	require.Equal(t, "2", repo.products["beef"].Stock.String())
}
