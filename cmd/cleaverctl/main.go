package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/cleaver-pos/cleaver/cmd/cleaverctl/cli"
	"github.com/cleaver-pos/cleaver/internal/app"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/platform/db"
	"github.com/cleaver-pos/cleaver/internal/platform/events"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	openPool := func(ctx context.Context) (*pgxpool.Pool, error) {
		return db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	}

	deps := cli.Deps{
		Ledger: func(ctx context.Context) (cli.LedgerBuilder, func(), error) {
			pool, err := openPool(ctx)
			if err != nil {
				return nil, nil, err
			}
			repo := ledger.NewRepository(pool, cfg.RetryPolicy(nil))
			reconstructor := ledger.NewReconstructor(repo, nil, logger)
			return ledger.NewService(nil, reconstructor, shared.NewAuditLogger(pool), events.Discard{}, logger), pool.Close, nil
		},
		Treasury: func(ctx context.Context) (cli.DayCloser, func(), error) {
			pool, err := openPool(ctx)
			if err != nil {
				return nil, nil, err
			}
			return treasury.NewService(treasury.NewRepository(pool), shared.NewAuditLogger(pool), logger), pool.Close, nil
		},
		Jobs: func() (cli.JobQueue, error) {
			return cli.NewJobsCLI(cfg.RedisAddr), nil
		},
	}

	if err := cli.NewRootCommand(deps).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
