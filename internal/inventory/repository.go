package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cleaver-pos/cleaver/internal/platform/db"
)

// TxRepository exposes transactional operations used by service and by the
// invoice writer, which shares the same transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id string) (Product, error)
	UpdateStock(ctx context.Context, id string, stock decimal.Decimal) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	queries *Queries
	retry   db.RetryPolicy
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, retry db.RetryPolicy) *Repository {
	return &Repository{pool: pool, queries: NewQueries(pool), retry: retry}
}

// WithTx executes the callback inside a serializable transaction, re-running it on conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithRetryTx(ctx, r.pool, r.retry, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

// GetProduct reads a product outside of any transaction.
func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	return r.queries.GetProduct(ctx, id)
}

// ListProducts pages through the catalogue.
func (r *Repository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	return r.queries.ListProducts(ctx, filter)
}

// Queries runs product statements against a pool or an open transaction.
type Queries struct {
	db db.Querier
}

// NewQueries binds Queries to q.
func NewQueries(q db.Querier) *Queries {
	return &Queries{db: q}
}

const productColumns = `id, title, stock, price, cost_price, track_stock, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Title, &p.Stock, &p.Price, &p.CostPrice, &p.TrackStock, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetProduct loads a product by id.
func (q *Queries) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, err
}

// GetProductForUpdate loads a product and locks its row for the rest of the transaction.
func (q *Queries) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, err
}

// UpdateStock overwrites the stock of a product.
func (q *Queries) UpdateStock(ctx context.Context, id string, stock decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return fmt.Errorf("inventory: update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return nil
}

// ListProducts returns a page of products ordered by title plus the total match count.
func (q *Queries) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	const where = ` WHERE ($1 = '' OR title ILIKE '%' || $1 || '%')`
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, filter.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products`+where+` ORDER BY title, id LIMIT $2 OFFSET $3`, filter.Search, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}
