package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

func newQueueCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate on a persisted offline queue",
		Long: `Operates directly on the queue store used by "carelink serve"
(sqlite or redis). Stop the server first when using sqlite.`,
		Example: `  carelink queue list --queue-store sqlite --queue-path carelink-queue.db
  carelink queue drain --config carelink.yaml
  carelink queue dead-letters --queue-store redis --redis-host localhost:6379
  carelink queue requeue 1724576400123 --config carelink.yaml`,
	}

	cmd.AddCommand(
		queueSubcommand(root, "list", "List pending requests", cobra.NoArgs, runQueueList),
		queueSubcommand(root, "dead-letters", "List requests that exhausted their attempts", cobra.NoArgs, runQueueDeadLetters),
		queueSubcommand(root, "drain", "Replay pending requests through the configured functions", cobra.NoArgs, runQueueDrain),
		queueSubcommand(root, "remove <id>", "Drop a pending or dead-lettered request", cobra.ExactArgs(1), runQueueRemove),
		queueSubcommand(root, "requeue <id>", "Move a dead letter back to the pending queue", cobra.ExactArgs(1), runQueueRequeue),
	)
	return cmd
}

type queueEnv struct {
	cfg        config.Config
	logger     *zap.Logger
	queue      *queue.Queue
	out        io.Writer
	outputJSON bool
}

type queueRunFunc func(ctx context.Context, env *queueEnv, args []string) error

func queueSubcommand(root *rootOptions, use, short string, argsFn cobra.PositionalArgs, run queueRunFunc) *cobra.Command {
	var (
		storage    storageOptions
		outputJSON bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argsFn,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := storage.apply(cmd, &cfg); err != nil {
				return err
			}
			if cfg.Queue.Store == config.BackendMemory {
				return fmt.Errorf("queue store is %q; use --queue-store sqlite or redis", cfg.Queue.Store)
			}
			logger, err := root.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			b, err := openBackends(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			q, err := b.openQueue(ctx, cfg, clock.NewRealClock())
			if err != nil {
				return err
			}
			return run(ctx, &queueEnv{
				cfg:        cfg,
				logger:     logger,
				queue:      q,
				out:        cmd.OutOrStdout(),
				outputJSON: outputJSON,
			}, args)
		},
	}
	storage.addFlags(cmd)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func runQueueList(_ context.Context, env *queueEnv, _ []string) error {
	return printRequests(env, env.queue.Pending(), "no pending requests")
}

func runQueueDeadLetters(_ context.Context, env *queueEnv, _ []string) error {
	return printRequests(env, env.queue.DeadLetters(), "no dead letters")
}

func runQueueDrain(ctx context.Context, env *queueEnv, _ []string) error {
	handlers, err := buildHandlers(env.cfg, env.logger)
	if err != nil {
		return err
	}
	results, err := env.queue.Drain(ctx, handlers)
	if err != nil {
		return err
	}
	if env.outputJSON {
		return writeJSON(env.out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(env.out, "queue is empty")
		return nil
	}
	t := newTable(env.out, table.Row{"ID", "Function", "Success", "Dead letter", "Error"})
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
		t.AppendRow(table.Row{r.ID, r.FunctionName, r.Success, r.DeadLettered, r.Error})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", len(results)-failed, len(results)), "", fmt.Sprintf("%d still pending", env.queue.Len())})
	t.Render()
	return nil
}

func runQueueRemove(_ context.Context, env *queueEnv, args []string) error {
	id, err := parseRequestID(args[0])
	if err != nil {
		return err
	}
	if err := env.queue.Remove(id); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "removed request %d\n", id)
	return nil
}

func runQueueRequeue(_ context.Context, env *queueEnv, args []string) error {
	id, err := parseRequestID(args[0])
	if err != nil {
		return err
	}
	if err := env.queue.Requeue(id); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "requeued request %d\n", id)
	return nil
}

func parseRequestID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", s)
	}
	return id, nil
}

func printRequests(env *queueEnv, reqs []queue.Request, empty string) error {
	if env.outputJSON {
		if reqs == nil {
			reqs = []queue.Request{}
		}
		return writeJSON(env.out, reqs)
	}
	if len(reqs) == 0 {
		fmt.Fprintln(env.out, empty)
		return nil
	}
	t := newTable(env.out, table.Row{"ID", "Function", "Enqueued", "Status", "Attempts", "Last error", "Payload"})
	for _, r := range reqs {
		t.AppendRow(table.Row{
			r.ID,
			r.FunctionName,
			r.EnqueuedAt.Format(time.RFC3339),
			r.Status,
			r.Attempts,
			r.LastError,
			truncate(string(r.Payload), 40),
		})
	}
	t.Render()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
