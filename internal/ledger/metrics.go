package ledger

import "github.com/prometheus/client_golang/prometheus"

const (
	resultCommitted = "committed"
	resultRejected  = "rejected"
	resultConflict  = "conflict"
	resultFailed    = "failed"

	healApplied = "applied"
	healSkipped = "skipped"
	healFailed  = "failed"
)

// Metrics holds the ledger collectors. A nil *Metrics records nothing.
type Metrics struct {
	invoices        *prometheus.CounterVec
	payments        *prometheus.CounterVec
	stockRejections prometheus.Counter
	txRetries       prometheus.Counter
	drift           prometheus.Counter
	heals           *prometheus.CounterVec
}

// NewMetrics registers the ledger collectors against registerer, or the
// default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleaver_ledger_invoices_total",
			Help: "Invoice submissions partitioned by result.",
		}, []string{"result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleaver_ledger_payments_total",
			Help: "Payment submissions partitioned by result.",
		}, []string{"result"}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaver_ledger_stock_rejections_total",
			Help: "Invoices aborted because a tracked product would go negative.",
		}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaver_ledger_tx_retries_total",
			Help: "Ledger transactions re-executed after a serialization conflict.",
		}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaver_ledger_drift_detected_total",
			Help: "Reconstructions whose balance disagreed with the cached current debt.",
		}),
		heals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleaver_ledger_heals_total",
			Help: "Cached balance corrections partitioned by outcome.",
		}, []string{"outcome"}),
	}
	registerer.MustRegister(m.invoices, m.payments, m.stockRejections, m.txRetries, m.drift, m.heals)
	return m
}

// ObserveRetry counts one re-executed transaction. It matches the
// db.RetryPolicy OnRetry hook.
func (m *Metrics) ObserveRetry(int, error) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) invoice(result string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(result).Inc()
}

func (m *Metrics) payment(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

func (m *Metrics) stockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

func (m *Metrics) driftDetected() {
	if m == nil {
		return
	}
	m.drift.Inc()
}

func (m *Metrics) heal(outcome string) {
	if m == nil {
		return
	}
	m.heals.WithLabelValues(outcome).Inc()
}
