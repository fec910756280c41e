package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cleaver-pos/cleaver/internal/jobs"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerBuilder rebuilds a counterparty ledger.
type LedgerBuilder interface {
	BuildLedger(ctx context.Context, counterpartyID string, opts ledger.BuildOptions) (ledger.Ledger, error)
}

// Locker hands out exclusive, expiring locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// LedgerReconcileJob heals one counterparty's cached balance. A redis lock
// keeps two workers from healing the same counterparty at once.
type LedgerReconcileJob struct {
	Ledger  LedgerBuilder
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerReconcileJob constructs the job handler.
func NewLedgerReconcileJob(builder LedgerBuilder, locker Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &LedgerReconcileJob{
		Ledger:  builder,
		Locker:  locker,
		LockTTL: lockTTL,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile job.
func (j *LedgerReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.CounterpartyID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLedgerReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.LedgerHealLockKey(payload.CounterpartyID), j.LockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			j.log().Info("reconcile already running", slog.String("counterparty_id", payload.CounterpartyID))
			tracker.Skip()
			return nil
		}
		if err != nil {
			resultErr = fmt.Errorf("ledger reconcile: acquire lock: %w", err)
			return resultErr
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release heal lock", slog.String("counterparty_id", payload.CounterpartyID), slog.Any("error", err))
			}
		}()
	}

	start := j.now()
	l, err := j.Ledger.BuildLedger(ctx, payload.CounterpartyID, ledger.BuildOptions{Persist: true})
	if err != nil {
		resultErr = err
		j.log().Error("rebuild ledger", slog.String("counterparty_id", payload.CounterpartyID), slog.Any("error", err))
		if ledger.IsBusinessRule(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return resultErr
	}

	j.log().Info("ledger reconciled",
		slog.String("counterparty_id", payload.CounterpartyID),
		slog.Int("entries", len(l.Entries)),
		slog.String("balance", l.Balance.String()),
		slog.Bool("healed", l.Healed),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *LedgerReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}

func (j *LedgerReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
