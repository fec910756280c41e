package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cleaver-pos/cleaver/internal/app"
	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/ledger/memstore"
	"github.com/cleaver-pos/cleaver/internal/observability"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

const client = "0550123456"

type auditTrail struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditTrail) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if log.Actor == "" {
		log.Actor = shared.ActorFromContext(ctx)
	}
	a.logs = append(a.logs, log)
	return nil
}

type bus struct {
	mu    sync.Mutex
	types []string
}

func (b *bus) Publish(_ context.Context, _, eventType string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, eventType)
	return nil
}

type keys struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (k *keys) CheckAndInsert(_ context.Context, key, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = true
	return nil
}

func (k *keys) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.seen, key)
	return nil
}

type queue struct {
	mu  sync.Mutex
	ids []string
}

func (q *queue) EnqueueLedgerReconcile(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type closes struct {
	mu        sync.Mutex
	movements []treasury.Movement
	days      map[string]treasury.DailyClose
}

func (c *closes) InsertMovement(_ context.Context, m treasury.Movement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.movements = append(c.movements, m)
	return nil
}

func (c *closes) ListMovements(context.Context, treasury.MovementFilter) ([]treasury.Movement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]treasury.Movement(nil), c.movements...), nil
}

func (c *closes) InsertClose(_ context.Context, dc treasury.DailyClose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	day := dc.Day.Format(time.DateOnly)
	if _, ok := c.days[day]; ok {
		return treasury.ErrDayAlreadyClosed
	}
	c.days[day] = dc
	return nil
}

type stack struct {
	server  *httptest.Server
	store   *memstore.Store
	audit   *auditTrail
	events  *bus
	healing *queue
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := memstore.New()
	store.PutProduct(inventory.Product{ID: "beef", Title: "Beef steak", Stock: decimal.NewFromInt(3), TrackStock: true})
	store.PutProduct(inventory.Product{ID: "merguez", Title: "Merguez", TrackStock: false})
	store.PutCounterparty(ledger.Counterparty{ID: client, FullName: "Restaurant El Bahia", Role: ledger.RoleClient})

	metrics := observability.NewMetrics()
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())
	audit := &auditTrail{}
	events := &bus{}
	healing := &queue{}

	service := ledger.NewService(
		ledger.NewWriter(store, inventory.Policy{}, ledgerMetrics, nil),
		ledger.NewReconstructor(store, ledgerMetrics, nil),
		audit, events, nil)

	router := app.NewRouter(app.RouterParams{
		Config:          &app.Config{},
		Metrics:         metrics,
		LedgerHandler:   ledger.NewHandler(nil, service, &keys{seen: map[string]bool{}}, healing),
		TreasuryHandler: treasury.NewHandler(nil, treasury.NewService(&closes{days: map[string]treasury.DailyClose{}}, audit, nil)),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &stack{server: server, store: store, audit: audit, events: events, healing: healing}
}

func (s *stack) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(app.ActorHeader, "nadia")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

type ledgerView struct {
	Balance decimal.Decimal `json:"balance"`
	Cached  decimal.Decimal `json:"cached_balance"`
	Drift   decimal.Decimal `json:"drift"`
	Healed  bool            `json:"healed"`
	Entries []ledger.Entry  `json:"entries"`
}

func invoice(amount, paid int64, qty int64) map[string]any {
	return map[string]any{
		"amount":      decimal.NewFromInt(amount),
		"paid_amount": decimal.NewFromInt(paid),
		"items": []map[string]any{
			{"product_id": "beef", "title": "Beef steak", "unit_price": decimal.NewFromInt(2800), "quantity": decimal.NewFromInt(qty)},
			{"product_id": "merguez", "title": "Merguez", "unit_price": decimal.NewFromInt(0), "quantity": decimal.NewFromInt(4)},
		},
	}
}

func TestCounterLedgerFlow(t *testing.T) {
	s := newStack(t)
	path := "/api/counterparties/" + client

	resp, _ := s.do(t, http.MethodPost, path+"/invoices", invoice(5600, 1000, 2), map[string]string{"Idempotency-Key": "till-1-0001"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	beef, _ := s.store.Product("beef")
	require.True(t, beef.Stock.Equal(decimal.NewFromInt(1)))

	resp, _ = s.do(t, http.MethodPost, path+"/invoices", invoice(5600, 1000, 2), map[string]string{"Idempotency-Key": "till-1-0001"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, path+"/invoices", invoice(14000, 0, 5), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "beef")

	resp, _ = s.do(t, http.MethodPost, path+"/payments", map[string]any{"amount": decimal.NewFromInt(600)}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cp, _ := s.store.Counterparty(client)
	require.True(t, cp.CurrentDebt.Equal(decimal.NewFromInt(4000)), cp.CurrentDebt.String())
	require.Len(t, s.store.Movements(), 2)

	resp, body = s.do(t, http.MethodGet, path+"/ledger", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view ledgerView
	require.NoError(t, json.Unmarshal(body, &view))
	require.True(t, view.Balance.Equal(decimal.NewFromInt(4000)))
	require.True(t, view.Drift.IsZero())
	require.Len(t, view.Entries, 2)
	require.Empty(t, s.healing.ids)

	cp.CurrentDebt = decimal.NewFromInt(9999)
	s.store.PutCounterparty(cp)

	resp, body = s.do(t, http.MethodGet, path+"/ledger", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &view))
	require.False(t, view.Healed)
	require.True(t, view.Cached.Equal(decimal.NewFromInt(9999)))
	require.Equal(t, []string{client}, s.healing.ids)
	cp, _ = s.store.Counterparty(client)
	require.True(t, cp.CurrentDebt.Equal(decimal.NewFromInt(9999)))

	resp, body = s.do(t, http.MethodPost, path+"/ledger/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &view))
	require.True(t, view.Healed)
	cp, _ = s.store.Counterparty(client)
	require.True(t, cp.CurrentDebt.Equal(decimal.NewFromInt(4000)))

	require.NotEmpty(t, s.audit.logs)
	last := s.audit.logs[len(s.audit.logs)-1]
	require.Equal(t, "ledger:self_heal", last.Action)
	require.Equal(t, "nadia", last.Actor)
	require.Equal(t, []string{ledger.EventInvoiceCommitted, ledger.EventPaymentRecorded, ledger.EventLedgerHealed}, s.events.types)

	resp, body = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `cleaver_ledger_invoices_total{result="committed"} 1`)
	require.Contains(t, string(body), `cleaver_ledger_heals_total{outcome="applied"} 1`)
}

func TestTreasuryCloseOverHTTP(t *testing.T) {
	s := newStack(t)
	payload := map[string]any{
		"day":      "2026-03-02",
		"opening":  decimal.NewFromInt(5000),
		"inflow":   decimal.NewFromInt(2000),
		"expenses": decimal.NewFromInt(1500),
		"closing":  decimal.NewFromInt(48000),
	}
	resp, body := s.do(t, http.MethodPost, "/api/treasury/close", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var closed treasury.DailyClose
	require.NoError(t, json.Unmarshal(body, &closed))
	require.True(t, closed.DerivedNetSales.Equal(decimal.NewFromInt(42500)))
	require.Equal(t, "nadia", closed.Actor)

	resp, _ = s.do(t, http.MethodPost, "/api/treasury/close", payload, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
