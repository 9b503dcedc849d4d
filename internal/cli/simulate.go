package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/functions"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/service"
)

// Call outcomes reported by the simulator.
const (
	OutcomeExecuted = "executed"
	OutcomeQueued   = "queued"
	OutcomeLimited  = "limited"
	OutcomeFailed   = "failed"
)

type simulateParams struct {
	requests    int
	callers     []string
	function    string
	offline     bool
	fastForward time.Duration
	failing     []string
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		p           simulateParams
		limit       int
		window      time.Duration
		maxAttempts int
		outputJSON bool
		graph      bool
	)

	cmd := &cobra.Command{
		Use:     "simulate",
		Aliases: []string{"test"},
		Short:   "Run an offline/online scenario on a virtual clock",
		Long: `Runs a scenario against the real limiter, queue and service using a
virtual clock, so hours of traffic take milliseconds.

The scenario sends a batch of calls while online, goes offline and sends
another batch (which is queued), fast-forwards the clock, reconnects so the
queue drains, then sends a final batch.`,
		Example: `  carelink simulate --requests 5 --limit 3 --window 1m
  carelink simulate --callers alice,bob --function assessHealthRisk --fast-forward 2m
  carelink simulate --fail syncPatientData --max-attempts 1 --json
  carelink simulate --requests 20 --graph`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit") {
				cfg.Limiter.Limit = limit
			}
			if cmd.Flags().Changed("window") {
				cfg.Limiter.Window = window
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.Queue.MaxAttempts = maxAttempts
			}
			cfg.Storage.Backend = config.BackendMemory
			cfg.Queue.Store = config.BackendMemory
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(p.callers) == 0 {
				p.callers = []string{"caregiver-1"}
			}
			if p.fastForward == 0 {
				p.fastForward = cfg.Limiter.Window
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			a, err := newApp(cmd.Context(), cfg, vc, zap.NewNop(), failingHandlers(p.failing))
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := runSimulation(cmd.Context(), a, vc, p)
			if err != nil {
				return err
			}
			result.Limit = cfg.Limiter.Limit
			result.Window = cfg.Limiter.Window.String()

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, result)
			}
			printSimulation(out, &result)
			if graph {
				plot(out, "remaining quota per call ("+p.callers[0]+")", result.remainingSeries(p.callers[0]))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&p.requests, "requests", 5, "calls per caller in each batch")
	cmd.Flags().IntVar(&limit, "limit", 0, "calls allowed per window (default from config)")
	cmd.Flags().DurationVar(&window, "window", 0, "rate limit window (default from config)")
	cmd.Flags().StringSliceVar(&p.callers, "callers", nil, "comma-separated callers")
	cmd.Flags().StringVar(&p.function, "function", functions.SyncPatientData, "function to invoke")
	cmd.Flags().BoolVar(&p.offline, "offline", true, "send the second batch while offline")
	cmd.Flags().DurationVar(&p.fastForward, "fast-forward", 0, "virtual time to skip before reconnecting (default: one window)")
	cmd.Flags().StringSliceVar(&p.failing, "fail", nil, "functions whose handler always fails")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", queue.DefaultMaxAttempts, "drains before a failing request is dead-lettered (0 = never)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&graph, "graph", false, "plot the remaining quota")

	return cmd
}

// failingHandlers returns echo handlers where every name in failing errors.
func failingHandlers(failing []string) queue.Handlers {
	handlers := functions.Echo()
	for _, name := range failing {
		name := name
		handlers[name] = func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, fmt.Errorf("%s unavailable", name)
		}
	}
	return handlers
}

// SimulationResult is the full output of a simulate run.
type SimulationResult struct {
	Limit       int                `json:"limit"`
	Window      string             `json:"window"`
	FastForward string             `json:"fast_forward"`
	Batches     []BatchResult      `json:"batches"`
	Drain       []queue.Result     `json:"drain"`
	Summary     map[string]Summary `json:"summary"`
	Pending     int                `json:"pending"`
	DeadLetters int                `json:"dead_letters"`
}

// BatchResult captures one batch of calls.
type BatchResult struct {
	Label  string       `json:"label"`
	Time   string       `json:"time"`
	Online bool         `json:"online"`
	Calls  []CallResult `json:"calls"`
}

// CallResult is a single Invoke outcome.
type CallResult struct {
	Caller    string `json:"caller"`
	Function  string `json:"function"`
	Outcome   string `json:"outcome"`
	Remaining int    `json:"remaining"`
	RequestID int64  `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary aggregates outcomes per caller.
type Summary struct {
	Total    int `json:"total"`
	Executed int `json:"executed"`
	Queued   int `json:"queued"`
	Limited  int `json:"limited"`
	Failed   int `json:"failed"`
}

func runSimulation(ctx context.Context, a *app, vc *clock.VirtualClock, p simulateParams) (SimulationResult, error) {
	result := SimulationResult{
		FastForward: p.fastForward.String(),
		Summary:     make(map[string]Summary),
	}

	batch := func(label string) {
		b := BatchResult{
			Label:  label,
			Time:   vc.Now().Format(time.RFC3339),
			Online: a.monitor.Online(),
		}
		for i := 0; i < p.requests; i++ {
			for _, caller := range p.callers {
				cr := invokeOnce(ctx, a.service, caller, p.function)
				b.Calls = append(b.Calls, cr)
				result.Summary[caller] = result.Summary[caller].add(cr.Outcome)
			}
		}
		result.Batches = append(result.Batches, b)
	}

	batch("Online")
	if p.offline {
		a.monitor.SetOnline(ctx, false)
		batch("Offline")
	}

	vc.Advance(p.fastForward)
	if a.monitor.SetOnline(ctx, true) {
		a.monitor.Wait()
		result.Drain = a.service.LastResults()
	}
	batch(fmt.Sprintf("After fast-forward %s", p.fastForward))

	result.Pending = a.queue.Len()
	result.DeadLetters = len(a.queue.DeadLetters())
	return result, nil
}

func invokeOnce(ctx context.Context, svc *service.Service, caller, function string) CallResult {
	cr := CallResult{Caller: caller, Function: function}
	out, err := svc.Invoke(ctx, caller, function, json.RawMessage(`{"caller":"`+caller+`"}`))
	cr.Remaining = out.Decision.Remaining
	switch {
	case errors.Is(err, service.ErrRateLimited):
		cr.Outcome = OutcomeLimited
	case err != nil:
		cr.Outcome = OutcomeFailed
		cr.Error = err.Error()
	case out.Queued:
		cr.Outcome = OutcomeQueued
		cr.RequestID = out.RequestID
	default:
		cr.Outcome = OutcomeExecuted
	}
	return cr
}

func (s Summary) add(outcome string) Summary {
	s.Total++
	switch outcome {
	case OutcomeExecuted:
		s.Executed++
	case OutcomeQueued:
		s.Queued++
	case OutcomeLimited:
		s.Limited++
	case OutcomeFailed:
		s.Failed++
	}
	return s
}

func (r *SimulationResult) remainingSeries(caller string) []float64 {
	var series []float64
	for _, b := range r.Batches {
		for _, c := range b.Calls {
			if c.Caller == caller {
				series = append(series, float64(c.Remaining))
			}
		}
	}
	return series
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintf(w, "=== Carelink simulation: %d calls per %s ===\n\n", r.Limit, r.Window)

	for _, b := range r.Batches {
		state := "online"
		if !b.Online {
			state = "offline"
		}
		fmt.Fprintf(w, "--- %s (%s, at %s) ---\n", b.Label, state, b.Time)
		t := newTable(w, table.Row{"#", "Caller", "Function", "Outcome", "Remaining", "Request"})
		for i, c := range b.Calls {
			req := ""
			if c.RequestID != 0 {
				req = fmt.Sprint(c.RequestID)
			}
			t.AppendRow(table.Row{i + 1, c.Caller, c.Function, c.Outcome, c.Remaining, req})
		}
		t.Render()
		fmt.Fprintln(w)
	}

	if len(r.Drain) > 0 {
		fmt.Fprintln(w, "--- Drain on reconnect ---")
		t := newTable(w, table.Row{"Request", "Function", "Success", "Error"})
		for _, res := range r.Drain {
			t.AppendRow(table.Row{res.ID, res.FunctionName, res.Success, res.Error})
		}
		t.Render()
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	t := newTable(w, table.Row{"Caller", "Total", "Executed", "Queued", "Limited", "Failed"})
	for caller, s := range r.Summary {
		t.AppendRow(table.Row{caller, s.Total, s.Executed, s.Queued, s.Limited, s.Failed})
	}
	t.SortBy([]table.SortBy{{Name: "Caller", Mode: table.Asc}})
	t.AppendFooter(table.Row{"", "", "", "", "pending", r.Pending})
	t.Render()
	if r.DeadLetters > 0 {
		fmt.Fprintf(w, "\n%d request(s) dead-lettered.\n", r.DeadLetters)
	}
}
