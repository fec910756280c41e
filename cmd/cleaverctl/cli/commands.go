// Package cli implements the cleaverctl back-office commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/money"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
	"github.com/cleaver-pos/cleaver/jobs"
)

// LedgerBuilder rebuilds a counterparty ledger.
type LedgerBuilder interface {
	BuildLedger(ctx context.Context, counterpartyID string, opts ledger.BuildOptions) (ledger.Ledger, error)
}

// DayCloser records a till reconciliation.
type DayCloser interface {
	CloseDay(ctx context.Context, input treasury.DailyCloseInput) (treasury.DailyClose, error)
}

// JobQueue triggers and inspects background jobs.
type JobQueue interface {
	Trigger(ctx context.Context, name, counterpartyID string) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
	Close() error
}

// Deps opens the backends lazily so --help never touches the network. Each
// opener returns a release func.
type Deps struct {
	Ledger   func(ctx context.Context) (LedgerBuilder, func(), error)
	Treasury func(ctx context.Context) (DayCloser, func(), error)
	Jobs     func() (JobQueue, error)
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// NewRootCommand assembles the cleaverctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "cleaverctl",
		Short: "Back-office tools for the Cleaver point of sale",
		Long: `cleaverctl inspects counterparty ledgers, corrects cached balances,
closes the till and drives the background job queue.

Configuration is read from the environment (and .env) exactly like the
server: PG_DSN, REDIS_ADDR, TX_MAX_ATTEMPTS and friends.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("lang", "fr", "BCP 47 language tag used to group digits")
	root.PersistentFlags().String("actor", "", "operator recorded in audit logs")
	root.AddCommand(newLedgerCommand(deps), newTreasuryCommand(deps), newJobsCommand(deps))
	return root
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if actor, _ := cmd.Flags().GetString("actor"); strings.TrimSpace(actor) != "" {
		ctx = shared.ContextWithActor(ctx, strings.TrimSpace(actor))
	}
	return ctx
}

func languageTag(cmd *cobra.Command) (language.Tag, error) {
	raw, _ := cmd.Flags().GetString("lang")
	tag, err := language.Parse(raw)
	if err != nil {
		return language.Und, fmt.Errorf("invalid --lang %q: %w", raw, err)
	}
	return tag, nil
}

func newLedgerCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and reconcile counterparty ledgers",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the reconstructed ledger of a counterparty",
		Example: `  cleaverctl ledger show --counterparty 0550123456
  cleaverctl ledger show --counterparty sup-1 --heal --lang en`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			heal, _ := cmd.Flags().GetBool("heal")
			return runLedger(cmd, deps, heal)
		},
	}
	show.Flags().String("counterparty", "", "counterparty id (phone number for clients)")
	show.Flags().Bool("heal", false, "persist the recomputed balance when it drifted")
	_ = show.MarkFlagRequired("counterparty")

	heal := &cobra.Command{
		Use:   "heal",
		Short: "Recompute and persist a counterparty's cached balance",
		Long: `heal rebuilds the ledger and writes the recomputed balance back when it
disagrees with the cached current debt. With --async the work is queued for
the worker instead of running inline.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			async, _ := cmd.Flags().GetBool("async")
			if !async {
				return runLedger(cmd, deps, true)
			}
			id, _ := cmd.Flags().GetString("counterparty")
			return runTrigger(cmd, deps, jobs.TaskLedgerReconcile, id)
		},
	}
	heal.Flags().String("counterparty", "", "counterparty id (phone number for clients)")
	heal.Flags().Bool("async", false, "queue a ledger:reconcile task instead of healing inline")
	_ = heal.MarkFlagRequired("counterparty")

	cmd.AddCommand(show, heal)
	return cmd
}

func runLedger(cmd *cobra.Command, deps Deps, persist bool) error {
	if deps.Ledger == nil {
		return errors.New("ledger backend not configured")
	}
	tag, err := languageTag(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("counterparty")
	ctx := commandContext(cmd)

	builder, release, err := deps.Ledger(ctx)
	if err != nil {
		return err
	}
	defer release()

	l, err := builder.BuildLedger(ctx, strings.TrimSpace(id), ledger.BuildOptions{Persist: persist})
	if err != nil {
		return err
	}
	return RenderStatement(cmd.OutOrStdout(), l, tag)
}

func newTreasuryCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Till and bank operations",
	}
	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Reconcile the till for a day",
		Long: `close records the counted till figures for a day and derives net sales as
closing - opening - inflow + expenses. A day can only be closed once.`,
		Example: `  cleaverctl treasury close --opening 5000 --inflow 2000 --expenses 1500 --closing 48000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClose(cmd, deps)
		},
	}
	closeCmd.Flags().String("day", "", "day to close (YYYY-MM-DD, default today UTC)")
	closeCmd.Flags().String("opening", "0", "cash in the till at opening")
	closeCmd.Flags().String("inflow", "0", "cash added from non-sales sources")
	closeCmd.Flags().String("expenses", "0", "cash paid out of the till")
	closeCmd.Flags().String("closing", "", "cash counted at closing")
	closeCmd.Flags().String("notes", "", "free-form remark")
	_ = closeCmd.MarkFlagRequired("closing")
	cmd.AddCommand(closeCmd)
	return cmd
}

func decimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	d, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return d, nil
}

func runClose(cmd *cobra.Command, deps Deps) error {
	if deps.Treasury == nil {
		return errors.New("treasury backend not configured")
	}
	tag, err := languageTag(cmd)
	if err != nil {
		return err
	}
	input := treasury.DailyCloseInput{Day: deps.now()}
	if raw, _ := cmd.Flags().GetString("day"); raw != "" {
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return fmt.Errorf("invalid --day %q: %w", raw, err)
		}
		input.Day = day
	}
	for name, dst := range map[string]*decimal.Decimal{
		"opening":  &input.Opening,
		"inflow":   &input.Inflow,
		"expenses": &input.Expenses,
		"closing":  &input.Closing,
	} {
		v, err := decimalFlag(cmd, name)
		if err != nil {
			return err
		}
		*dst = v
	}
	input.Notes, _ = cmd.Flags().GetString("notes")

	ctx := commandContext(cmd)
	closer, release, err := deps.Treasury(ctx)
	if err != nil {
		return err
	}
	defer release()

	closed, err := closer.CloseDay(ctx, input)
	if err != nil {
		return err
	}
	return RenderClose(cmd.OutOrStdout(), closed, tag)
}

func newJobsCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	trigger := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskLedgerReconcile, jobs.TaskLedgerSweep, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("counterparty")
			return runTrigger(cmd, deps, args[0], id)
		},
	}
	trigger.Flags().String("counterparty", "", "counterparty id for ledger:reconcile")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the counters of every worker queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deps.Jobs == nil {
				return errors.New("job queue not configured")
			}
			queue, err := deps.Jobs()
			if err != nil {
				return err
			}
			defer queue.Close()
			all, err := queue.InspectQueues(commandContext(cmd))
			if err != nil {
				return err
			}
			for _, s := range all {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}

func runTrigger(cmd *cobra.Command, deps Deps, name, counterpartyID string) error {
	if deps.Jobs == nil {
		return errors.New("job queue not configured")
	}
	queue, err := deps.Jobs()
	if err != nil {
		return err
	}
	defer queue.Close()
	info, err := queue.Trigger(commandContext(cmd), name, counterpartyID)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s already queued\n", name)
		return err
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return err
}
