package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleaver-pos/cleaver/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed adjustments.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	events      EventPublisher
	policy      Policy
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service. audit, idem and events may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, events EventPublisher, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		events:      events,
		policy:      Policy{AllowNegative: cfg.AllowNegativeStock},
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the negative-stock policy the service was configured with.
func (s *Service) Policy() Policy {
	return s.policy
}

// GetProduct returns a single product.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, ErrProductNotFound
	}
	return s.repo.GetProduct(ctx, id)
}

// ListProducts lists the catalogue with a total count.
func (s *Service) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListProducts(ctx, filter)
}

// Adjust applies a signed stock delta (positive for deliveries, negative for
// waste or corrections) under the configured policy.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (StockChange, error) {
	if strings.TrimSpace(input.ProductID) == "" {
		return StockChange{}, errors.New("inventory: product required")
	}
	if input.Delta.IsZero() {
		return StockChange{}, ErrInvalidQuantity
	}

	key := ""
	if input.Reference != "" && s.idempotency != nil {
		key = fmt.Sprintf("adjust:%s:%s", input.ProductID, input.Reference)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return StockChange{}, err
		}
	}

	var change StockChange
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		after := product.Stock.Add(input.Delta)
		if input.Delta.IsNegative() && !s.policy.AllowNegative && after.IsNegative() {
			return &StockInsufficientError{
				ProductID: product.ID,
				Title:     product.Title,
				Available: product.Stock,
				Requested: input.Delta.Neg(),
			}
		}
		if err := tx.UpdateStock(ctx, product.ID, after); err != nil {
			return err
		}
		change = StockChange{
			ProductID: product.ID,
			Title:     product.Title,
			Before:    product.Stock,
			Quantity:  input.Delta.Neg(),
			After:     after,
		}
		return nil
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockChange{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "inventory:adjust",
			Entity:   "product",
			EntityID: change.ProductID,
			Meta: map[string]any{
				"delta":     input.Delta.String(),
				"before":    change.Before.String(),
				"after":     change.After.String(),
				"note":      input.Note,
				"reference": input.Reference,
			},
		}); err != nil {
			s.logger.Warn("inventory audit", slog.String("product_id", change.ProductID), slog.Any("error", err))
		}
	}
	if s.events != nil {
		evt := StockAdjustedEvent{
			ProductID:  change.ProductID,
			Title:      change.Title,
			Delta:      input.Delta,
			StockAfter: change.After,
			Note:       input.Note,
			Reference:  input.Reference,
			AdjustedAt: s.now(),
		}
		if err := s.events.Publish(ctx, change.ProductID, EventStockAdjusted, evt); err != nil {
			s.logger.Warn("publish stock adjusted", slog.String("product_id", change.ProductID), slog.Any("error", err))
		}
	}
	return change, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.now = clock
	}
}
