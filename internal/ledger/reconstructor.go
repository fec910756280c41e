package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Reader exposes the history sources and the cached balance of a counterparty.
type Reader interface {
	GetCounterparty(ctx context.Context, id string) (Counterparty, error)
	ListEvents(ctx context.Context, counterpartyID string) ([]Event, error)
	ListOrders(ctx context.Context, customerID string) ([]Order, error)
	// SetCurrentDebt overwrites the cached balance only if the counterparty is
	// still at expectedVersion. It reports whether the write happened.
	SetCurrentDebt(ctx context.Context, id string, debt decimal.Decimal, expectedVersion int64) (bool, error)
}

// Reconstructor rebuilds ledgers from history.
type Reconstructor struct {
	reader  Reader
	metrics *Metrics
	logger  *slog.Logger
}

// NewReconstructor builds a Reconstructor. metrics may be nil.
func NewReconstructor(reader Reader, metrics *Metrics, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{reader: reader, metrics: metrics, logger: logger}
}

// BuildLedger returns the full chronological history of a counterparty with a
// running balance. With opts.Persist a drifted cached balance is corrected;
// that write never fails the call.
func (r *Reconstructor) BuildLedger(ctx context.Context, counterpartyID string, opts BuildOptions) (Ledger, error) {
	if counterpartyID == "" {
		return Ledger{}, &ValidationError{Fields: map[string]string{"counterparty_id": "is required"}}
	}

	var snapshot *Counterparty
	cp, err := r.reader.GetCounterparty(ctx, counterpartyID)
	switch {
	case err == nil:
		snapshot = &cp
	case errors.Is(err, ErrCounterpartyNotFound):
		r.logger.Debug("ledger requested for unknown counterparty", slog.String("counterparty_id", counterpartyID))
	default:
		return Ledger{}, &FetchError{Source: "counterparty", Err: err}
	}

	var (
		events []Event
		orders []Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = r.reader.ListEvents(gctx, counterpartyID)
		if err != nil {
			return &FetchError{Source: "events", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		orders, err = r.reader.ListOrders(gctx, counterpartyID)
		if err != nil {
			return &FetchError{Source: "orders", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Ledger{}, err
	}

	entries, balance := Merge(events, orders)
	ledger := Ledger{
		CounterpartyID: counterpartyID,
		Counterparty:   snapshot,
		Entries:        entries,
		Balance:        balance,
	}
	if snapshot == nil {
		return ledger, nil
	}

	ledger.Cached = snapshot.CurrentDebt
	ledger.Drift = balance.Sub(snapshot.CurrentDebt)
	if !ledger.HasDrift() {
		return ledger, nil
	}
	r.metrics.driftDetected()
	r.logger.Warn("ledger drift detected",
		slog.String("counterparty_id", counterpartyID),
		slog.String("cached", snapshot.CurrentDebt.String()),
		slog.String("computed", balance.String()))

	if opts.Persist {
		ledger.Healed = r.heal(ctx, snapshot, balance)
	}
	return ledger, nil
}

func (r *Reconstructor) heal(ctx context.Context, snapshot *Counterparty, balance decimal.Decimal) bool {
	ok, err := r.reader.SetCurrentDebt(ctx, snapshot.ID, balance, snapshot.Version)
	switch {
	case err != nil:
		r.metrics.heal(healFailed)
		r.logger.Error("ledger self-heal failed", slog.String("counterparty_id", snapshot.ID), slog.Any("error", err))
		return false
	case !ok:
		r.metrics.heal(healSkipped)
		r.logger.Info("ledger self-heal skipped, counterparty changed concurrently", slog.String("counterparty_id", snapshot.ID))
		return false
	}
	r.metrics.heal(healApplied)
	snapshot.CurrentDebt = balance
	snapshot.Version++
	return true
}
