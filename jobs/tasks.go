package jobs

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueLedger carries counterparty heals.
	QueueLedger = "ledger"
	// QueueMaintenance carries sweeps and housekeeping.
	QueueMaintenance = "maintenance"
	// TaskLedgerReconcile rebuilds one counterparty's ledger and heals its cached balance.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskLedgerSweep fans out a reconcile task for every counterparty.
	TaskLedgerSweep = "ledger:sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerReconcilePayload names the counterparty to reconcile.
type LedgerReconcilePayload struct {
	CounterpartyID string `json:"counterparty_id"`
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewLedgerReconcileTask constructs a reconcile task. The task id is derived
// from the counterparty so a burst of drift reports queues a single heal.
func NewLedgerReconcileTask(counterpartyID string) (*asynq.Task, error) {
	counterpartyID = strings.TrimSpace(counterpartyID)
	if counterpartyID == "" {
		return nil, errors.New("jobs: counterparty id required")
	}
	body, err := json.Marshal(LedgerReconcilePayload{CounterpartyID: counterpartyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body,
		asynq.Queue(QueueLedger),
		asynq.TaskID(TaskLedgerReconcile+":"+counterpartyID),
		asynq.MaxRetry(5),
	), nil
}

// NewLedgerSweepTask constructs the periodic sweep task.
func NewLedgerSweepTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerSweep, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(1))
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance)), nil
}
