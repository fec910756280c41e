package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/cleaver-pos/cleaver/internal/jobs"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/shared"
)

type fakeBuilder struct {
	calls []string
	opts  []ledger.BuildOptions
	err   error
}

func (f *fakeBuilder) BuildLedger(_ context.Context, id string, opts ledger.BuildOptions) (ledger.Ledger, error) {
	f.calls = append(f.calls, id)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return ledger.Ledger{}, f.err
	}
	return ledger.Ledger{CounterpartyID: id, Balance: decimal.NewFromInt(4000), Healed: true}, nil
}

func newLocker(t *testing.T) (*shared.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewRedisLocker(client), mr
}

func reconcileTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewLedgerReconcileTask(id)
	require.NoError(t, err)
	return task
}

func TestLedgerReconcileJobPersistsUnderLock(t *testing.T) {
	locker, mr := newLocker(t)
	builder := &fakeBuilder{}
	job := NewLedgerReconcileJob(builder, locker, time.Minute, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t, "0550123456")))
	require.Equal(t, []string{"0550123456"}, builder.calls)
	require.Equal(t, []ledger.BuildOptions{{Persist: true}}, builder.opts)
	require.False(t, mr.Exists(shared.LedgerHealLockKey("0550123456")))
}

func TestLedgerReconcileJobSkipsWhenLockHeld(t *testing.T) {
	locker, _ := newLocker(t)
	builder := &fakeBuilder{}
	reg := prometheus.NewRegistry()
	job := NewLedgerReconcileJob(builder, locker, time.Minute, nil, jobmetrics.NewMetrics(reg))

	release, err := locker.Acquire(context.Background(), shared.LedgerHealLockKey("c1"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t, "c1")))
	require.Empty(t, builder.calls)

	expected := `
# HELP cleaver_jobs_total Total job executions partitioned by job name and status.
# TYPE cleaver_jobs_total counter
cleaver_jobs_total{job="ledger:reconcile",status="skipped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cleaver_jobs_total"))
}

func TestLedgerReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewLedgerReconcileJob(&fakeBuilder{}, nil, 0, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(LedgerReconcilePayload{})
	err = job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerReconcileJobRetriesFetchFailures(t *testing.T) {
	builder := &fakeBuilder{err: &ledger.FetchError{Source: "events", Err: errors.New("timeout")}}
	job := NewLedgerReconcileJob(builder, nil, 0, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), reconcileTask(t, "c1"))
	require.ErrorIs(t, err, ledger.ErrFetch)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerReconcileJobDoesNotRetryBusinessErrors(t *testing.T) {
	builder := &fakeBuilder{err: &ledger.ValidationError{Fields: map[string]string{"counterparty_id": "is required"}}}
	job := NewLedgerReconcileJob(builder, nil, 0, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), reconcileTask(t, "c1"))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewLedgerReconcileTaskDedupesByCounterparty(t *testing.T) {
	_, err := NewLedgerReconcileTask("  ")
	require.Error(t, err)

	task := reconcileTask(t, "c1")
	require.Equal(t, TaskLedgerReconcile, task.Type())
	var payload LedgerReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "c1", payload.CounterpartyID)
}
