package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement that returns no rows. *pgxpool.Pool and pgx.Tx
// both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
