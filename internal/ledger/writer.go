package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/money"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

// TxStore is the set of reads and staged writes available inside one atomic
// unit of work. Every read locks what it returns until commit.
type TxStore interface {
	inventory.TxRepository
	GetCounterpartyForUpdate(ctx context.Context, id string) (Counterparty, error)
	UpdateCounterparty(ctx context.Context, cp Counterparty) error
	InsertEvent(ctx context.Context, ev Event) error
	InsertMovement(ctx context.Context, m treasury.Movement) error
	// Now returns the store's clock, used as the server-assigned timestamp.
	Now(ctx context.Context) (time.Time, error)
}

// Store runs fn atomically. fn may be executed more than once when the store
// detects a conflicting writer, so it must only depend on its own reads.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Writer commits invoices and payments.
type Writer struct {
	store    Store
	policy   inventory.Policy
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger
	newID    func() string
}

// NewWriter builds a Writer. metrics may be nil.
func NewWriter(store Store, policy inventory.Policy, metrics *Metrics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:    store,
		policy:   policy,
		validate: newValidator(),
		metrics:  metrics,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// SubmitInvoice applies an invoice against stock, the counterparty balance and,
// when something was paid up front, the till. Either every effect lands or none.
func (w *Writer) SubmitInvoice(ctx context.Context, in InvoiceInput, cp Counterparty, paid decimal.Decimal) (InvoiceReceipt, error) {
	extra := map[string]string{}
	if cp.ID == "" {
		extra["counterparty_id"] = "is required"
	}
	if paid.IsNegative() {
		extra["paid_amount"] = "must be at least 0"
	}
	if err := check(w.validate, in, extra); err != nil {
		w.metrics.invoice(resultRejected)
		return InvoiceReceipt{}, err
	}

	// Ids are fixed before the transaction so a re-executed body writes the same records.
	eventID := w.newID()
	movementID := w.newID()
	lines := make([]inventory.Line, 0, len(in.Items))
	for _, item := range in.Items {
		lines = append(lines, item.inventoryLine())
	}
	productIDs := inventory.ProductIDs(lines)
	lockOrder := slices.Clone(productIDs)
	slices.Sort(lockOrder)

	var receipt InvoiceReceipt
	err := w.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		current, err := tx.GetCounterpartyForUpdate(ctx, cp.ID)
		if err != nil {
			return err
		}

		products := make(map[string]inventory.Product, len(lockOrder))
		for _, id := range lockOrder {
			p, err := tx.GetProductForUpdate(ctx, id)
			if err != nil {
				return err
			}
			products[id] = p
		}
		changes, err := inventory.PlanDeductions(products, lines, w.policy)
		if err != nil {
			return err
		}
		for _, change := range changes {
			if err := tx.UpdateStock(ctx, change.ProductID, change.After); err != nil {
				return err
			}
		}

		event := Event{
			ID:              eventID,
			CounterpartyID:  current.ID,
			Kind:            KindInvoice,
			Amount:          in.Amount,
			PaidAmount:      paid,
			RemainingAmount: money.Outstanding(in.Amount, paid),
			Items:           cloneItems(in.Items),
			OrderID:         in.OrderID,
			Notes:           in.Notes,
			CreatedAt:       now,
		}
		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}

		current.CurrentDebt = current.CurrentDebt.Add(event.RemainingAmount)
		current.TotalDebt = current.TotalDebt.Add(in.Amount)
		current.LastTransactionDate = now
		current.Version++
		if err := tx.UpdateCounterparty(ctx, current); err != nil {
			return err
		}

		var movement *treasury.Movement
		if paid.IsPositive() {
			movement = &treasury.Movement{
				ID:          movementID,
				Type:        treasury.MovementCash,
				Operation:   treasury.OperationCredit,
				Amount:      paid,
				Description: fmt.Sprintf("invoice payment: %s", current.FullName),
				RelatedID:   eventID,
				CreatedAt:   now,
			}
			if err := tx.InsertMovement(ctx, *movement); err != nil {
				return err
			}
		}

		receipt = InvoiceReceipt{Event: event, Counterparty: current, Movement: movement, StockChanges: changes}
		return nil
	})
	if err != nil {
		w.metrics.invoice(resultFor(err))
		var stockErr *inventory.StockInsufficientError
		if errors.As(err, &stockErr) {
			w.metrics.stockRejected()
		}
		return InvoiceReceipt{}, err
	}

	w.metrics.invoice(resultCommitted)
	w.logger.Info("invoice committed",
		slog.String("event_id", receipt.Event.ID),
		slog.String("counterparty_id", receipt.Counterparty.ID),
		slog.String("amount", receipt.Event.Amount.String()),
		slog.String("paid", paid.String()),
		slog.Int("stock_changes", len(receipt.StockChanges)))
	return receipt, nil
}

// RecordPayment settles part of a counterparty's balance and records the money
// movement: in for clients, out for suppliers.
func (w *Writer) RecordPayment(ctx context.Context, in PaymentInput) (PaymentReceipt, error) {
	if err := check(w.validate, in, nil); err != nil {
		w.metrics.payment(resultRejected)
		return PaymentReceipt{}, err
	}
	method := in.Method
	if method == "" {
		method = treasury.MovementCash
	}
	eventID := w.newID()
	movementID := w.newID()

	var receipt PaymentReceipt
	err := w.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		current, err := tx.GetCounterpartyForUpdate(ctx, in.CounterpartyID)
		if err != nil {
			return err
		}

		event := Event{
			ID:              eventID,
			CounterpartyID:  current.ID,
			Kind:            KindPayment,
			Amount:          in.Amount,
			PaidAmount:      in.Amount,
			RemainingAmount: decimal.Zero,
			Notes:           in.Notes,
			CreatedAt:       now,
		}
		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}

		current.CurrentDebt = current.CurrentDebt.Sub(in.Amount)
		current.LastTransactionDate = now
		current.Version++
		if err := tx.UpdateCounterparty(ctx, current); err != nil {
			return err
		}

		op := treasury.OperationCredit
		if current.Role == RoleSupplier {
			op = treasury.OperationDebit
		}
		movement := treasury.Movement{
			ID:          movementID,
			Type:        method,
			Operation:   op,
			Amount:      in.Amount,
			Description: fmt.Sprintf("payment: %s", current.FullName),
			RelatedID:   eventID,
			CreatedAt:   now,
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}

		receipt = PaymentReceipt{Event: event, Counterparty: current, Movement: movement}
		return nil
	})
	if err != nil {
		w.metrics.payment(resultFor(err))
		return PaymentReceipt{}, err
	}

	w.metrics.payment(resultCommitted)
	w.logger.Info("payment recorded",
		slog.String("event_id", receipt.Event.ID),
		slog.String("counterparty_id", receipt.Counterparty.ID),
		slog.String("amount", in.Amount.String()),
		slog.String("method", string(method)))
	return receipt, nil
}

func cloneItems(items []LineItem) []LineItem {
	if len(items) == 0 {
		return []LineItem{}
	}
	return slices.Clone(items)
}

func resultFor(err error) string {
	switch {
	case IsBusinessRule(err):
		return resultRejected
	case IsTransient(err):
		return resultConflict
	default:
		return resultFailed
	}
}
