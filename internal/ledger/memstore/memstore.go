// Package memstore is an in-memory ledger store. Transactions are serialized
// by a mutex and applied to a staged copy that is swapped in on commit, so a
// failed body leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

// Op names an operation that can be made to fail.
type Op string

// Operations accepting injected faults.
const (
	OpGetCounterparty Op = "get_counterparty"
	OpListEvents      Op = "list_events"
	OpListOrders      Op = "list_orders"
	OpSetCurrentDebt  Op = "set_current_debt"
	OpInsertMovement  Op = "insert_movement"
)

// MaxAttempts mirrors the default retry budget of the Postgres store.
const MaxAttempts = 5

type state struct {
	products       map[string]inventory.Product
	counterparties map[string]ledger.Counterparty
	events         []ledger.Event
	orders         []ledger.Order
	movements      []treasury.Movement
}

func (s state) clone() state {
	return state{
		products:       maps.Clone(s.products),
		counterparties: maps.Clone(s.counterparties),
		events:         slices.Clone(s.events),
		orders:         slices.Clone(s.orders),
		movements:      slices.Clone(s.movements),
	}
}

// Store implements ledger.Store and ledger.Reader.
type Store struct {
	mu        sync.Mutex
	data      state
	clock     func() time.Time
	faults    map[Op]error
	conflicts int
	attempts  int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: state{
			products:       map[string]inventory.Product{},
			counterparties: map[string]ledger.Counterparty{},
		},
		clock:  func() time.Time { return time.Now().UTC() },
		faults: map[Op]error{},
	}
}

// SetClock replaces the transaction clock.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (s *Store) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// SimulateConflicts makes the next n transaction bodies lose a serialization
// conflict after running, so they are discarded and re-executed.
func (s *Store) SimulateConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Attempts reports how many transaction bodies have run in total.
func (s *Store) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

// PutCounterparty inserts or replaces a counterparty.
func (s *Store) PutCounterparty(cp ledger.Counterparty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.counterparties[cp.ID] = cp
}

// PutEvent appends a historical event as is.
func (s *Store) PutEvent(ev ledger.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.events = append(s.data.events, ev)
}

// PutOrder appends a legacy order.
func (s *Store) PutOrder(o ledger.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.orders = append(s.data.orders, o)
}

// Product returns a product snapshot.
func (s *Store) Product(id string) (inventory.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	return p, ok
}

// Counterparty returns a counterparty snapshot.
func (s *Store) Counterparty(id string) (ledger.Counterparty, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data.counterparties[id]
	return cp, ok
}

// Events returns every stored event.
func (s *Store) Events() []ledger.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.events)
}

// Movements returns every stored treasury movement.
func (s *Store) Movements() []treasury.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.movements)
}

// WithTx runs fn against a staged copy and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.attempts++
		staged := &tx{state: s.data.clone(), now: s.clock(), faults: s.faults}
		if err := fn(ctx, staged); err != nil {
			return err
		}
		if s.conflicts > 0 {
			s.conflicts--
			if attempt >= MaxAttempts {
				return fmt.Errorf("%w: gave up after %d attempts", ledger.ErrStoreConflict, attempt)
			}
			continue
		}
		s.data = staged.state
		return nil
	}
}

// GetCounterparty implements ledger.Reader.
func (s *Store) GetCounterparty(_ context.Context, id string) (ledger.Counterparty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpGetCounterparty]; err != nil {
		return ledger.Counterparty{}, err
	}
	cp, ok := s.data.counterparties[id]
	if !ok {
		return ledger.Counterparty{}, fmt.Errorf("%w: %s", ledger.ErrCounterpartyNotFound, id)
	}
	return cp, nil
}

// ListEvents implements ledger.Reader.
func (s *Store) ListEvents(_ context.Context, counterpartyID string) ([]ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpListEvents]; err != nil {
		return nil, err
	}
	var out []ledger.Event
	for _, ev := range s.data.events {
		if ev.CounterpartyID == counterpartyID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListOrders implements ledger.Reader.
func (s *Store) ListOrders(_ context.Context, customerID string) ([]ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpListOrders]; err != nil {
		return nil, err
	}
	var out []ledger.Order
	for _, o := range s.data.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// SetCurrentDebt implements ledger.Reader.
func (s *Store) SetCurrentDebt(_ context.Context, id string, debt decimal.Decimal, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[OpSetCurrentDebt]; err != nil {
		return false, err
	}
	cp, ok := s.data.counterparties[id]
	if !ok || cp.Version != expectedVersion {
		return false, nil
	}
	cp.CurrentDebt = debt
	cp.Version++
	s.data.counterparties[id] = cp
	return true, nil
}

// ListCounterpartyIDs returns every counterparty id, sorted.
func (s *Store) ListCounterpartyIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.data.counterparties))
	slices.Sort(ids)
	return ids, nil
}

type tx struct {
	state
	now    time.Time
	faults map[Op]error
}

func (t *tx) Now(context.Context) (time.Time, error) {
	return t.now, nil
}

func (t *tx) GetProductForUpdate(_ context.Context, id string) (inventory.Product, error) {
	p, ok := t.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

func (t *tx) UpdateStock(_ context.Context, id string, stock decimal.Decimal) error {
	p, ok := t.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	p.Stock = stock
	p.UpdatedAt = t.now
	t.products[id] = p
	return nil
}

func (t *tx) GetCounterpartyForUpdate(_ context.Context, id string) (ledger.Counterparty, error) {
	cp, ok := t.counterparties[id]
	if !ok {
		return ledger.Counterparty{}, fmt.Errorf("%w: %s", ledger.ErrCounterpartyNotFound, id)
	}
	return cp, nil
}

func (t *tx) UpdateCounterparty(_ context.Context, cp ledger.Counterparty) error {
	if _, ok := t.counterparties[cp.ID]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrCounterpartyNotFound, cp.ID)
	}
	t.counterparties[cp.ID] = cp
	return nil
}

func (t *tx) InsertEvent(_ context.Context, ev ledger.Event) error {
	for _, existing := range t.events {
		if existing.ID == ev.ID {
			return fmt.Errorf("memstore: duplicate event %s", ev.ID)
		}
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m treasury.Movement) error {
	if err := t.faults[OpInsertMovement]; err != nil {
		return err
	}
	t.movements = append(t.movements, m)
	return nil
}
