package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cleaver-pos/cleaver/internal/jobs"
)

// CounterpartyDirectory lists every counterparty.
type CounterpartyDirectory interface {
	ListCounterpartyIDs(ctx context.Context) ([]string, error)
}

// ReconcileEnqueuer queues one reconcile task per counterparty.
type ReconcileEnqueuer interface {
	EnqueueLedgerReconcile(ctx context.Context, counterpartyID string) error
}

// LedgerSweepJob queues a reconcile for every counterparty so drift is
// corrected even for counterparties nobody looks at.
type LedgerSweepJob struct {
	Directory CounterpartyDirectory
	Enqueuer  ReconcileEnqueuer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLedgerSweepJob constructs the sweep handler.
func NewLedgerSweepJob(directory CounterpartyDirectory, enqueuer ReconcileEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerSweepJob {
	return &LedgerSweepJob{Directory: directory, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *LedgerSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Directory == nil || j.Enqueuer == nil {
		return errors.New("ledger sweep: dependencies not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskLedgerSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskLedgerSweep))

	ids, err := j.Directory.ListCounterpartyIDs(ctx)
	if err != nil {
		resultErr = err
		logger.Error("list counterparties", slog.Any("error", err))
		return resultErr
	}

	queued, failed := 0, 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			resultErr = err
			return resultErr
		}
		if err := j.Enqueuer.EnqueueLedgerReconcile(ctx, id); err != nil {
			failed++
			logger.Warn("enqueue reconcile", slog.String("counterparty_id", id), slog.Any("error", err))
			continue
		}
		queued++
	}
	metrics.AddProcessed(TaskLedgerSweep, queued)
	logger.Info("ledger sweep queued", slog.Int("counterparties", len(ids)), slog.Int("queued", queued), slog.Int("failed", failed))
	if failed > 0 && queued == 0 {
		resultErr = errors.New("ledger sweep: every enqueue failed")
	}
	return resultErr
}
