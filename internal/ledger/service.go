package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/shared"
)

// Event types published after commit.
const (
	EventInvoiceCommitted = "invoice.committed"
	EventPaymentRecorded  = "payment.recorded"
	EventLedgerHealed     = "ledger.healed"
)

// EventPublisher forwards committed facts to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// HealedEvent is published when a cached balance was corrected.
type HealedEvent struct {
	CounterpartyID string          `json:"counterparty_id"`
	Previous       decimal.Decimal `json:"previous"`
	Current        decimal.Decimal `json:"current"`
	HealedAt       time.Time       `json:"healed_at"`
}

// Service ties the writer and reconstructor to audit and event publication.
// Nothing here runs inside a store transaction.
type Service struct {
	writer        *Writer
	reconstructor *Reconstructor
	audit         AuditPort
	events        EventPublisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewService builds Service. audit and events may be nil.
func NewService(writer *Writer, reconstructor *Reconstructor, audit AuditPort, events EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		writer:        writer,
		reconstructor: reconstructor,
		audit:         audit,
		events:        events,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.now = clock
	}
}

// SubmitInvoice commits an invoice for the counterparty and announces it.
func (s *Service) SubmitInvoice(ctx context.Context, counterpartyID string, in InvoiceInput, paid decimal.Decimal) (InvoiceReceipt, error) {
	receipt, err := s.writer.SubmitInvoice(ctx, in, Counterparty{ID: counterpartyID}, paid)
	if err != nil {
		return InvoiceReceipt{}, err
	}
	s.publish(ctx, receipt.Counterparty.ID, EventInvoiceCommitted, receipt)
	return receipt, nil
}

// RecordPayment commits a payment and announces it.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (PaymentReceipt, error) {
	receipt, err := s.writer.RecordPayment(ctx, in)
	if err != nil {
		return PaymentReceipt{}, err
	}
	s.publish(ctx, receipt.Counterparty.ID, EventPaymentRecorded, receipt)
	return receipt, nil
}

// BuildLedger reconstructs the ledger. A heal that went through is audited
// and announced.
func (s *Service) BuildLedger(ctx context.Context, counterpartyID string, opts BuildOptions) (Ledger, error) {
	ledger, err := s.reconstructor.BuildLedger(ctx, counterpartyID, opts)
	if err != nil {
		return Ledger{}, err
	}
	if !ledger.Healed {
		return ledger, nil
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "ledger:self_heal",
			Entity:   "counterparty",
			EntityID: counterpartyID,
			Meta: map[string]any{
				"previous": ledger.Cached.String(),
				"current":  ledger.Balance.String(),
				"entries":  len(ledger.Entries),
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("ledger heal audit", slog.String("counterparty_id", counterpartyID), slog.Any("error", err))
		}
	}
	s.publish(ctx, counterpartyID, EventLedgerHealed, HealedEvent{
		CounterpartyID: counterpartyID,
		Previous:       ledger.Cached,
		Current:        ledger.Balance,
		HealedAt:       s.now(),
	})
	return ledger, nil
}

func (s *Service) publish(ctx context.Context, key, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, eventType, payload); err != nil {
		s.logger.Warn("publish ledger event", slog.String("type", eventType), slog.String("key", key), slog.Any("error", err))
	}
}
