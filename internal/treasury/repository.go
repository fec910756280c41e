package treasury

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cleaver-pos/cleaver/internal/platform/db"
)

// Repository persists treasury data in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	queries *Queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: NewQueries(pool)}
}

// InsertMovement appends a movement outside of a larger transaction.
func (r *Repository) InsertMovement(ctx context.Context, m Movement) error {
	return r.queries.InsertMovement(ctx, m)
}

// ListMovements lists movements in a window, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return r.queries.ListMovements(ctx, filter)
}

// InsertClose stores a daily close. A second close for the same day is rejected.
func (r *Repository) InsertClose(ctx context.Context, c DailyClose) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO treasury_closes (day, opening, inflow, expenses, closing, derived_net_sales, notes, actor, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.Day, c.Opening, c.Inflow, c.Expenses, c.Closing, c.DerivedNetSales, c.Notes, c.Actor, c.ClosedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDayAlreadyClosed
		}
		return fmt.Errorf("treasury: insert close: %w", err)
	}
	return nil
}

// Queries runs treasury statements against a pool or an open transaction.
type Queries struct {
	db db.Querier
}

// NewQueries binds Queries to q.
func NewQueries(q db.Querier) *Queries {
	return &Queries{db: q}
}

// InsertMovement appends a movement.
func (q *Queries) InsertMovement(ctx context.Context, m Movement) error {
	var related *string
	if m.RelatedID != "" {
		related = &m.RelatedID
	}
	_, err := q.db.Exec(ctx, `INSERT INTO treasury_movements (id, type, operation, amount, description, related_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, string(m.Type), string(m.Operation), m.Amount, m.Description, related, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("treasury: insert movement: %w", err)
	}
	return nil
}

// ListMovements lists movements in [From, To), oldest first.
func (q *Queries) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.db.Query(ctx, `SELECT id, type, operation, amount, description, COALESCE(related_id, ''), created_at
FROM treasury_movements
WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR type = $3)
ORDER BY created_at, id
LIMIT $4`, filter.From, filter.To, string(filter.Type), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var typ, op string
		if err := rows.Scan(&m.ID, &typ, &op, &m.Amount, &m.Description, &m.RelatedID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		m.Operation = Operation(op)
		out = append(out, m)
	}
	return out, rows.Err()
}
