package ledger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type staticReader struct {
	cp     Counterparty
	events []Event
	healOK bool
}

func (r staticReader) GetCounterparty(context.Context, string) (Counterparty, error) {
	return r.cp, nil
}

func (r staticReader) ListEvents(context.Context, string) ([]Event, error) {
	return r.events, nil
}

func (r staticReader) ListOrders(context.Context, string) ([]Order, error) {
	return nil, nil
}

func (r staticReader) SetCurrentDebt(context.Context, string, decimal.Decimal, int64) (bool, error) {
	return r.healOK, nil
}

func TestReconstructorCountsDriftAndHealOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	reader := staticReader{
		cp:     Counterparty{ID: "c1", CurrentDebt: decimal.NewFromInt(10)},
		events: []Event{{ID: "e1", Kind: KindInvoice, Amount: decimal.NewFromInt(25)}},
		healOK: true,
	}

	_, err := NewReconstructor(reader, m, nil).BuildLedger(context.Background(), "c1", BuildOptions{Persist: true})
	require.NoError(t, err)
	reader.healOK = false
	_, err = NewReconstructor(reader, m, nil).BuildLedger(context.Background(), "c1", BuildOptions{Persist: true})
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(m.drift))
	require.Equal(t, 1.0, testutil.ToFloat64(m.heals.WithLabelValues(healApplied)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.heals.WithLabelValues(healSkipped)))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.invoice(resultCommitted)
	m.payment(resultFailed)
	m.stockRejected()
	m.driftDetected()
	m.heal(healFailed)
	m.ObserveRetry(1, nil)
}

func TestObserveRetryCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveRetry(1, nil)
	m.ObserveRetry(2, nil)
	require.Equal(t, 2.0, testutil.ToFloat64(m.txRetries))
}
