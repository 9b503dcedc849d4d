package cli

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/functions"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
)

func newGenerateCmd() *cobra.Command {
	var (
		output       string
		configOutput string
		count        int
		callers      int
		duration     time.Duration
		pattern      string
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample call recordings and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate traffic" to create a call recording for "carelink replay".
Use "generate config" to create an example config file.`,
	}

	trafficCmd := &cobra.Command{
		Use:   "traffic",
		Short: "Generate a sample call recording",
		Long: `Creates a call recording of cloud-function invocations by several
caregivers, in the format written by "carelink serve --record".

Patterns:
  steady    Evenly distributed requests
  burst     Concentrated bursts with quiet periods
  ramp      Gradually increasing request rate`,
		Example: `  carelink generate traffic --output calls.json --count 100 --callers 5
  carelink generate traffic --output burst.json --count 200 --pattern burst --duration 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = "calls.json"
			}
			if count <= 0 || callers <= 0 || duration <= 0 {
				return fmt.Errorf("--count, --callers and --duration must be positive")
			}

			rng := rand.New(rand.NewSource(seed))
			if seed == 0 {
				rng = rand.New(rand.NewSource(time.Now().UnixNano()))
			}
			records := generateTraffic(rng, time.Now().Truncate(time.Second), count, callers, duration, pattern)

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			defer f.Close()

			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(records); err != nil {
				return fmt.Errorf("writing records: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d call records to %s\n", len(records), output)
			fmt.Fprintf(out, "  Callers:  %d\n", callers)
			fmt.Fprintf(out, "  Duration: %s\n", duration)
			fmt.Fprintf(out, "  Pattern:  %s\n", pattern)
			return nil
		},
	}

	trafficCmd.Flags().StringVar(&output, "output", "calls.json", "output file path")
	trafficCmd.Flags().IntVar(&count, "count", 100, "number of records to generate")
	trafficCmd.Flags().IntVar(&callers, "callers", 3, "number of distinct callers")
	trafficCmd.Flags().DurationVar(&duration, "duration", 5*time.Minute, "time span for generated traffic")
	trafficCmd.Flags().StringVar(&pattern, "pattern", "steady", "traffic pattern (steady, burst, ramp)")
	trafficCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")

	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Generate an example config file (YAML, or JSON for a .json path)",
		Example: `  carelink generate config --output carelink.yaml
  carelink generate config --output carelink.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configOutput == "" {
				configOutput = "carelink.yaml"
			}
			if err := config.WriteExample(configOutput); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", configOutput)
			return nil
		},
	}

	configCmd.Flags().StringVar(&configOutput, "output", "carelink.yaml", "output file path")

	cmd.AddCommand(trafficCmd, configCmd)
	return cmd
}

func generateTraffic(rng *rand.Rand, start time.Time, count, numCallers int, duration time.Duration, pattern string) []recorder.CallRecord {
	callers := make([]string, numCallers)
	for i := range callers {
		callers[i] = fmt.Sprintf("caregiver-%d", i+1)
	}
	endpoints := functions.Names()

	pick := func(ts time.Time) recorder.CallRecord {
		return recorder.CallRecord{
			Timestamp: ts,
			Caller:    callers[rng.Intn(len(callers))],
			Endpoint:  endpoints[rng.Intn(len(endpoints))],
		}
	}

	switch pattern {
	case "burst":
		return generateBurst(rng, pick, start, count, duration)
	case "ramp":
		return generateRamp(pick, start, count, duration)
	default: // "steady"
		return generateSteady(pick, start, count, duration)
	}
}

func generateSteady(pick func(time.Time) recorder.CallRecord, start time.Time, count int, dur time.Duration) []recorder.CallRecord {
	interval := dur / time.Duration(count)
	records := make([]recorder.CallRecord, count)
	for i := range records {
		records[i] = pick(start.Add(time.Duration(i) * interval))
	}
	return records
}

func generateBurst(rng *rand.Rand, pick func(time.Time) recorder.CallRecord, start time.Time, count int, dur time.Duration) []recorder.CallRecord {
	records := make([]recorder.CallRecord, 0, count)
	numBursts := 4
	burstSize := count / numBursts
	burstGap := dur / time.Duration(numBursts)

	for b := 0; b < numBursts; b++ {
		burstStart := start.Add(time.Duration(b) * burstGap)
		for i := 0; i < burstSize; i++ {
			// Calls within a burst land inside one second.
			offset := time.Duration(rng.Intn(1000)) * time.Millisecond
			records = append(records, pick(burstStart.Add(offset)))
		}
	}

	for len(records) < count {
		records = append(records, pick(start.Add(time.Duration(rng.Int63n(int64(dur))))))
	}
	return records
}

// generateRamp spaces calls quadratically so the rate climbs towards the end.
func generateRamp(pick func(time.Time) recorder.CallRecord, start time.Time, count int, dur time.Duration) []recorder.CallRecord {
	records := make([]recorder.CallRecord, 0, count)
	for i := 0; i < count; i++ {
		frac := float64(i) / float64(count)
		records = append(records, pick(start.Add(time.Duration(frac*frac*float64(dur)))))
	}
	return records
}
