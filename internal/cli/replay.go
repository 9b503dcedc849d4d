package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/replay"
)

func newReplayCmd(root *rootOptions) *cobra.Command {
	var (
		file       string
		limit      int
		window     time.Duration
		speed      float64
		callers    []string
		endpoints  []string
		bucket     time.Duration
		outputJSON bool
		graph      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded calls through the rate limiter",
		Long: `Replays previously recorded calls through the sliding window limiter.

Records are replayed in timestamp order. The virtual clock advances to match
the gaps between records, so decisions are exactly what production would
have made, at any speed you choose.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  carelink replay --file calls.json
  carelink replay --file calls.json --limit 10 --window 30s --graph
  carelink replay --file calls.json --callers alice --endpoints syncPatientData
  carelink replay --file calls.json --speed 0 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
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
			if err := cfg.Limiter.Validate(); err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			lim := limiter.NewSlidingWindow(cfg.Limiter, vc)
			r := replay.New(lim, vc, speed, &replay.Filter{Callers: callers, Endpoints: endpoints})
			if err := r.Load(f); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !outputJSON && verbose {
				fmt.Fprintf(out, "Replaying %s at %.0fx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				results = append(results, res)
				if outputJSON || !verbose {
					return
				}
				status := "ALLOW"
				if !res.Decision.Allowed {
					status = "DENY "
				}
				fmt.Fprintf(out, "  [%s] %s caller=%s endpoint=%s remaining=%d/%d\n",
					status,
					res.Record.Timestamp.Format("15:04:05.000"),
					res.Record.Caller,
					res.Record.Endpoint,
					res.Decision.Remaining,
					res.Decision.Limit)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return writeJSON(out, map[string]interface{}{
					"results": results,
					"summary": summary,
				})
			}

			printReplaySummary(out, summary)
			if graph {
				if bucket <= 0 {
					bucket = cfg.Limiter.Window / 6
				}
				allowed, denied := histogramSeries(replay.Histogram(results, bucket))
				plot(out, fmt.Sprintf("allowed (green) vs denied (red) per %s", bucket), allowed, denied)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to recorded calls (JSON array or JSON lines, required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "calls allowed per window (default from config)")
	cmd.Flags().DurationVar(&window, "window", 0, "rate limit window (default from config)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&callers, "callers", nil, "filter by callers (comma-separated)")
	cmd.Flags().StringSliceVar(&endpoints, "endpoints", nil, "filter by endpoints (comma-separated)")
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "histogram bucket for --graph (default: window/6)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&graph, "graph", false, "plot allowed and denied calls over time")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every decision")

	return cmd
}

func printReplaySummary(w io.Writer, s *replay.Summary) {
	t := newTable(w, table.Row{"Replay", ""})
	t.AppendRows([]table.Row{
		{"Total records", s.TotalRecords},
		{"Filtered", s.Filtered},
		{"Replayed", s.Replayed},
		{"Allowed", s.Allowed},
		{"Denied", s.Denied},
		{"Virtual time", s.Duration},
		{"Wall time", s.WallDuration.Round(time.Millisecond)},
	})
	t.Render()

	if len(s.PerKey) > 1 {
		keys := make([]string, 0, len(s.PerKey))
		for k := range s.PerKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pk := newTable(w, table.Row{"Caller", "Endpoint", "Allowed", "Denied"})
		for _, k := range keys {
			caller, endpoint, _ := strings.Cut(k, "|")
			ks := s.PerKey[k]
			pk.AppendRow(table.Row{caller, endpoint, ks.Allowed, ks.Denied})
		}
		pk.Render()
	}

	if s.Denied > 0 && s.Replayed > 0 {
		denyRate := float64(s.Denied) / float64(s.Replayed) * 100
		fmt.Fprintf(w, "Deny rate: %.1f%% (%d/%d calls denied)\n", denyRate, s.Denied, s.Replayed)
	}
}

func histogramSeries(buckets []replay.Bucket) (allowed, denied []float64) {
	for _, b := range buckets {
		allowed = append(allowed, float64(b.Allowed))
		denied = append(denied, float64(b.Denied))
	}
	return allowed, denied
}
