package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
	"github.com/cleaver-pos/cleaver/jobs"
)

type stubBuilder struct {
	ledger ledger.Ledger
	opts   []ledger.BuildOptions
}

func (s *stubBuilder) BuildLedger(_ context.Context, id string, opts ledger.BuildOptions) (ledger.Ledger, error) {
	s.opts = append(s.opts, opts)
	l := s.ledger
	l.CounterpartyID = id
	l.Healed = opts.Persist && l.HasDrift()
	return l, nil
}

type stubCloser struct {
	input treasury.DailyCloseInput
	actor string
}

func (s *stubCloser) CloseDay(ctx context.Context, in treasury.DailyCloseInput) (treasury.DailyClose, error) {
	s.input = in
	s.actor = shared.ActorFromContext(ctx)
	c, err := treasury.Close(in)
	c.Actor = s.actor
	return c, err
}

type stubQueue struct {
	triggered []string
	err       error
	closed    bool
}

func (q *stubQueue) Trigger(_ context.Context, name, id string) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.triggered = append(q.triggered, name+"|"+id)
	return &asynq.TaskInfo{ID: "t-1", Type: name, Queue: jobs.QueueMaintenance}, nil
}

func (q *stubQueue) InspectQueues(context.Context) ([]QueueStats, error) {
	return []QueueStats{
		{Queue: jobs.QueueLedger, Pending: 2, Retry: 1},
		{Queue: jobs.QueueMaintenance},
	}, nil
}

func (q *stubQueue) Close() error {
	q.closed = true
	return nil
}

func driftedLedger() ledger.Ledger {
	return ledger.Ledger{
		Counterparty: &ledger.Counterparty{ID: "0550123456", FullName: "Karim B.", Role: ledger.RoleClient},
		Entries: []ledger.Entry{{
			ID:        "ev-1",
			Kind:      ledger.KindInvoice,
			Amount:    decimal.NewFromInt(12500),
			Delta:     decimal.NewFromInt(12500),
			Balance:   decimal.NewFromInt(12500),
			CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		}},
		Balance: decimal.NewFromInt(12500),
		Cached:  decimal.NewFromInt(9999),
		Drift:   decimal.NewFromInt(2501),
	}
}

func run(t *testing.T, deps Deps, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(deps)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func ledgerDeps(b *stubBuilder) Deps {
	return Deps{Ledger: func(context.Context) (LedgerBuilder, func(), error) {
		return b, func() {}, nil
	}}
}

func TestLedgerShowIsReadOnly(t *testing.T) {
	b := &stubBuilder{ledger: driftedLedger()}
	out, err := run(t, ledgerDeps(b), "ledger", "show", "--counterparty", "0550123456", "--lang", "en")
	require.NoError(t, err)
	require.Equal(t, []ledger.BuildOptions{{Persist: false}}, b.opts)
	require.Contains(t, out, "Karim B. (0550123456, client)")
	require.Contains(t, out, "12,500.00")
	require.Contains(t, out, "run with --heal")
}

func TestLedgerHealPersists(t *testing.T) {
	b := &stubBuilder{ledger: driftedLedger()}
	out, err := run(t, ledgerDeps(b), "ledger", "heal", "--counterparty", "0550123456", "--lang", "en")
	require.NoError(t, err)
	require.Equal(t, []ledger.BuildOptions{{Persist: true}}, b.opts)
	require.Contains(t, out, "cached balance corrected: 9,999.00 -> 12,500.00")
}

func TestLedgerHealAsyncQueuesReconcile(t *testing.T) {
	q := &stubQueue{}
	deps := Deps{Jobs: func() (JobQueue, error) { return q, nil }}
	out, err := run(t, deps, "ledger", "heal", "--counterparty", "c1", "--async")
	require.NoError(t, err)
	require.Equal(t, []string{jobs.TaskLedgerReconcile + "|c1"}, q.triggered)
	require.True(t, q.closed)
	require.Contains(t, out, "queued ledger:reconcile")
}

func TestLedgerShowRequiresCounterparty(t *testing.T) {
	_, err := run(t, ledgerDeps(&stubBuilder{}), "ledger", "show")
	require.ErrorContains(t, err, "counterparty")
}

func TestTreasuryCloseScenario(t *testing.T) {
	closer := &stubCloser{}
	deps := Deps{
		Treasury: func(context.Context) (DayCloser, func(), error) { return closer, func() {}, nil },
		Now:      func() time.Time { return time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC) },
	}
	out, err := run(t, deps, "treasury", "close",
		"--opening", "5000", "--inflow", "2000", "--expenses", "1500", "--closing", "48000",
		"--actor", "nadia", "--lang", "en")
	require.NoError(t, err)
	require.True(t, closer.input.Closing.Equal(decimal.NewFromInt(48000)))
	require.Equal(t, "nadia", closer.actor)
	require.Contains(t, out, "42,500.00")
	require.Contains(t, out, "2026-03-02")
}

func TestTreasuryCloseAcceptsDecimalComma(t *testing.T) {
	closer := &stubCloser{}
	deps := Deps{
		Treasury: func(context.Context) (DayCloser, func(), error) { return closer, func() {}, nil },
		Now:      func() time.Time { return time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC) },
	}
	_, err := run(t, deps, "treasury", "close", "--opening", " 5000,25 ", "--closing", "48000,75")
	require.NoError(t, err)
	require.True(t, closer.input.Opening.Equal(decimal.RequireFromString("5000.25")))
	require.True(t, closer.input.Closing.Equal(decimal.RequireFromString("48000.75")))
}

func TestTreasuryCloseRejectsBadFigures(t *testing.T) {
	closer := &stubCloser{}
	deps := Deps{Treasury: func(context.Context) (DayCloser, func(), error) { return closer, func() {}, nil }}
	_, err := run(t, deps, "treasury", "close", "--closing", "lots")
	require.ErrorContains(t, err, "--closing")

	_, err = run(t, deps, "treasury", "close", "--closing", "100", "--day", "02/03/2026")
	require.ErrorContains(t, err, "--day")
}

func TestJobsTriggerAndStats(t *testing.T) {
	q := &stubQueue{}
	deps := Deps{Jobs: func() (JobQueue, error) { return q, nil }}

	out, err := run(t, deps, "jobs", "trigger", jobs.TaskLedgerSweep)
	require.NoError(t, err)
	require.Contains(t, out, "queued ledger:sweep id=t-1")

	out, err = run(t, deps, "jobs", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "queue=ledger pending=2 active=0 scheduled=0 retry=1")
	require.Contains(t, out, "queue=maintenance pending=0")
}

func TestJobsTriggerReportsDuplicate(t *testing.T) {
	q := &stubQueue{err: asynq.ErrTaskIDConflict}
	out, err := run(t, Deps{Jobs: func() (JobQueue, error) { return q, nil }}, "jobs", "trigger", jobs.TaskLedgerReconcile, "--counterparty", "c1")
	require.NoError(t, err)
	require.Contains(t, out, "already queued")

	q.err = errors.New("dial tcp: refused")
	_, err = run(t, Deps{Jobs: func() (JobQueue, error) { return q, nil }}, "jobs", "trigger", jobs.TaskLedgerSweep)
	require.Error(t, err)
}
