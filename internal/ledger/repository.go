package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/platform/db"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

// Repository persists ledger data in PostgreSQL and implements Store and Reader.
type Repository struct {
	pool    *pgxpool.Pool
	queries *Queries
	retry   db.RetryPolicy
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, retry db.RetryPolicy) *Repository {
	return &Repository{pool: pool, queries: NewQueries(pool), retry: retry}
}

type txStore struct {
	*Queries
	products  *inventory.Queries
	movements *treasury.Queries
}

func (s txStore) GetProductForUpdate(ctx context.Context, id string) (inventory.Product, error) {
	return s.products.GetProductForUpdate(ctx, id)
}

func (s txStore) UpdateStock(ctx context.Context, id string, stock decimal.Decimal) error {
	return s.products.UpdateStock(ctx, id, stock)
}

func (s txStore) InsertMovement(ctx context.Context, m treasury.Movement) error {
	return s.movements.InsertMovement(ctx, m)
}

// WithTx runs fn in a serializable transaction and re-executes it on
// serialization failures until the retry budget runs out.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithRetryTx(ctx, r.pool, r.retry, func(tx pgx.Tx) error {
		return fn(ctx, txStore{
			Queries:   NewQueries(tx),
			products:  inventory.NewQueries(tx),
			movements: treasury.NewQueries(tx),
		})
	})
	if errors.Is(err, db.ErrRetryBudgetExhausted) {
		return fmt.Errorf("%w: %w", ErrStoreConflict, err)
	}
	return err
}

// GetCounterparty reads the cached balance without locking.
func (r *Repository) GetCounterparty(ctx context.Context, id string) (Counterparty, error) {
	return r.queries.GetCounterparty(ctx, id)
}

// ListEvents lists every financial event of a counterparty.
func (r *Repository) ListEvents(ctx context.Context, counterpartyID string) ([]Event, error) {
	return r.queries.ListEvents(ctx, counterpartyID)
}

// ListOrders lists every legacy order of a customer.
func (r *Repository) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	return r.queries.ListOrders(ctx, customerID)
}

// SetCurrentDebt overwrites the cached balance when the version still matches.
func (r *Repository) SetCurrentDebt(ctx context.Context, id string, debt decimal.Decimal, expectedVersion int64) (bool, error) {
	return r.queries.SetCurrentDebt(ctx, id, debt, expectedVersion)
}

// ListCounterpartyIDs lists every counterparty id.
func (r *Repository) ListCounterpartyIDs(ctx context.Context) ([]string, error) {
	return r.queries.ListCounterpartyIDs(ctx)
}

// Queries runs ledger statements against a pool or an open transaction.
type Queries struct {
	db db.Querier
}

// NewQueries binds Queries to q.
func NewQueries(q db.Querier) *Queries {
	return &Queries{db: q}
}

const counterpartyColumns = `id, full_name, role, current_debt, total_debt, last_transaction_date, version`

func scanCounterparty(row pgx.Row) (Counterparty, error) {
	var (
		cp     Counterparty
		role   string
		lastTx *time.Time
	)
	if err := row.Scan(&cp.ID, &cp.FullName, &role, &cp.CurrentDebt, &cp.TotalDebt, &lastTx, &cp.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counterparty{}, ErrCounterpartyNotFound
		}
		return Counterparty{}, err
	}
	cp.Role = Role(role)
	if lastTx != nil {
		cp.LastTransactionDate = lastTx.UTC()
	}
	return cp, nil
}

// GetCounterparty loads a counterparty by id.
func (q *Queries) GetCounterparty(ctx context.Context, id string) (Counterparty, error) {
	cp, err := scanCounterparty(q.db.QueryRow(ctx, `SELECT `+counterpartyColumns+` FROM counterparties WHERE id = $1`, id))
	if errors.Is(err, ErrCounterpartyNotFound) {
		return Counterparty{}, fmt.Errorf("%w: %s", ErrCounterpartyNotFound, id)
	}
	return cp, err
}

// GetCounterpartyForUpdate loads a counterparty and locks its row until commit.
func (q *Queries) GetCounterpartyForUpdate(ctx context.Context, id string) (Counterparty, error) {
	cp, err := scanCounterparty(q.db.QueryRow(ctx, `SELECT `+counterpartyColumns+` FROM counterparties WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, ErrCounterpartyNotFound) {
		return Counterparty{}, fmt.Errorf("%w: %s", ErrCounterpartyNotFound, id)
	}
	return cp, err
}

// UpdateCounterparty writes the balance fields and version of cp.
func (q *Queries) UpdateCounterparty(ctx context.Context, cp Counterparty) error {
	var lastTx *time.Time
	if !cp.LastTransactionDate.IsZero() {
		lastTx = &cp.LastTransactionDate
	}
	tag, err := q.db.Exec(ctx, `UPDATE counterparties
SET current_debt = $2, total_debt = $3, last_transaction_date = $4, version = $5
WHERE id = $1`, cp.ID, cp.CurrentDebt, cp.TotalDebt, lastTx, cp.Version)
	if err != nil {
		return fmt.Errorf("ledger: update counterparty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCounterpartyNotFound, cp.ID)
	}
	return nil
}

// SetCurrentDebt is a compare-and-set on the counterparty version.
func (q *Queries) SetCurrentDebt(ctx context.Context, id string, debt decimal.Decimal, expectedVersion int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE counterparties SET current_debt = $2, version = version + 1
WHERE id = $1 AND version = $3`, id, debt, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("ledger: set current debt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCounterpartyIDs returns every counterparty id in a stable order.
func (q *Queries) ListCounterpartyIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM counterparties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertEvent appends a financial event.
func (q *Queries) InsertEvent(ctx context.Context, ev Event) error {
	items, err := json.Marshal(nonNilItems(ev.Items))
	if err != nil {
		return fmt.Errorf("ledger: encode items: %w", err)
	}
	var orderID *string
	if ev.OrderID != "" {
		orderID = &ev.OrderID
	}
	_, err = q.db.Exec(ctx, `INSERT INTO financial_events
(id, counterparty_id, kind, amount, paid_amount, remaining_amount, items, order_id, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.CounterpartyID, string(ev.Kind), ev.Amount, ev.PaidAmount, ev.RemainingAmount, items, orderID, ev.Notes, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a counterparty in insertion order.
func (q *Queries) ListEvents(ctx context.Context, counterpartyID string) ([]Event, error) {
	rows, err := q.db.Query(ctx, `SELECT id, counterparty_id, kind, amount, paid_amount, remaining_amount,
COALESCE(items, '[]'::jsonb), COALESCE(order_id, ''), notes, created_at
FROM financial_events WHERE counterparty_id = $1 ORDER BY created_at, id`, counterpartyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev    Event
			kind  string
			items []byte
		)
		if err := rows.Scan(&ev.ID, &ev.CounterpartyID, &kind, &ev.Amount, &ev.PaidAmount, &ev.RemainingAmount,
			&items, &ev.OrderID, &ev.Notes, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		if err := json.Unmarshal(items, &ev.Items); err != nil {
			return nil, fmt.Errorf("ledger: decode items of event %s: %w", ev.ID, err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListOrders returns the legacy orders of a customer. Either paid column may
// be NULL on old rows.
func (q *Queries) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	rows, err := q.db.Query(ctx, `SELECT id, COALESCE(order_number, ''), customer_id, total, paid_amount, amount_paid,
COALESCE(items, '[]'::jsonb), COALESCE(status, ''), COALESCE(notes, ''), created_at
FROM orders WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var (
			o          Order
			paidAmount decimal.NullDecimal
			amountPaid decimal.NullDecimal
			items      []byte
			createdAt  *time.Time
		)
		if err := rows.Scan(&o.ID, &o.Number, &o.CustomerID, &o.Total, &paidAmount, &amountPaid,
			&items, &o.Status, &o.Notes, &createdAt); err != nil {
			return nil, err
		}
		o.PaidAmount = nullToZero(paidAmount)
		o.AmountPaid = nullToZero(amountPaid)
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("ledger: decode items of order %s: %w", o.ID, err)
		}
		if createdAt != nil {
			o.CreatedAt = createdAt.UTC()
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Now returns the transaction timestamp.
func (q *Queries) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := q.db.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("ledger: read clock: %w", err)
	}
	return now.UTC(), nil
}

func nullToZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
