package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertMovement(ctx context.Context, m Movement) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	InsertClose(ctx context.Context, c DailyClose) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates treasury operations that are not part of an invoice.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.now = clock
	}
}

// NewMovement validates and stamps a movement with a fresh id.
func NewMovement(typ MovementType, op Operation, amount decimal.Decimal, description, relatedID string, at time.Time) (Movement, error) {
	if typ != MovementCash && typ != MovementBank {
		return Movement{}, fmt.Errorf("%w: type %q", ErrInvalidMovement, typ)
	}
	if op != OperationCredit && op != OperationDebit {
		return Movement{}, fmt.Errorf("%w: operation %q", ErrInvalidMovement, op)
	}
	if amount.Sign() <= 0 {
		return Movement{}, fmt.Errorf("%w: amount must be positive", ErrInvalidMovement)
	}
	return Movement{
		ID:          uuid.NewString(),
		Type:        typ,
		Operation:   op,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		RelatedID:   relatedID,
		CreatedAt:   at,
	}, nil
}

// RecordMovement appends a manual movement such as a petty-cash expense.
func (s *Service) RecordMovement(ctx context.Context, typ MovementType, op Operation, amount decimal.Decimal, description string) (Movement, error) {
	m, err := NewMovement(typ, op, amount, description, "", s.now())
	if err != nil {
		return Movement{}, err
	}
	if err := s.repo.InsertMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Movements lists one day's movements and their totals.
func (s *Service) Movements(ctx context.Context, day time.Time, typ MovementType) ([]Movement, Totals, error) {
	from := truncateDay(day)
	movements, err := s.repo.ListMovements(ctx, MovementFilter{From: from, To: from.AddDate(0, 0, 1), Type: typ})
	if err != nil {
		return nil, Totals{}, err
	}
	return movements, Summarize(movements), nil
}

// CloseDay reconciles the till and records the close.
func (s *Service) CloseDay(ctx context.Context, input DailyCloseInput) (DailyClose, error) {
	closing, err := Close(input)
	if err != nil {
		return DailyClose{}, err
	}
	closing.Actor = shared.ActorFromContext(ctx)
	closing.ClosedAt = s.now()
	if err := s.repo.InsertClose(ctx, closing); err != nil {
		return DailyClose{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    closing.Actor,
			Action:   "treasury:close",
			Entity:   "treasury_close",
			EntityID: closing.Day.Format(time.DateOnly),
			Meta: map[string]any{
				"opening":           closing.Opening.String(),
				"closing":           closing.Closing.String(),
				"derived_net_sales": closing.DerivedNetSales.String(),
			},
		}); err != nil {
			s.logger.Warn("treasury audit", slog.Any("error", err))
		}
	}
	return closing, nil
}
