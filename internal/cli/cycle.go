package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/models"
	"gopkg.in/yaml.v3"
)

var (
	cycleContext    string
	cycleData       []string
	cycleObjectives []string
	cycleTimeout    time.Duration
	cycleRepeat     int
)

func init() {
	rootCmd.AddCommand(cycleCmd)

	cycleCmd.Flags().StringVar(&cycleContext, "context", "", "free-form context for the cycle")
	cycleCmd.Flags().StringArrayVar(&cycleData, "data", nil, "input data as key=value (repeatable)")
	cycleCmd.Flags().StringArrayVar(&cycleObjectives, "objective", nil, "objective for the cycle (repeatable)")
	cycleCmd.Flags().DurationVar(&cycleTimeout, "timeout", 0, "per-cycle deadline (default loops.cycle_timeout)")
	cycleCmd.Flags().IntVar(&cycleRepeat, "repeat", 1, "number of cycles to run")
}

var cycleCmd = &cobra.Command{
	Use:   "cycle <loop-type>",
	Short: "Execute cycles of one loop",
	Long: `Start the runtime without drivers and execute cycles on the default loop
of the given type.

Data values are parsed as numbers, then booleans, then kept as strings.`,
	Example: `  omega cycle reflexive --context "DANGER: wall ahead"
  omega cycle reactive --data temperature=41.5 --data alarm=true
  omega cycle deliberative --objective "reduce latency" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		lt, err := models.ParseLoopType(args[0])
		if err != nil {
			return err
		}
		data, err := parseData(cycleData)
		if err != nil {
			return err
		}
		if cycleRepeat < 1 {
			return fmt.Errorf("--repeat must be at least 1")
		}

		ctx := cmd.Context()
		o, err := startRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer stopRuntime(o, &err)

		outputs := make([]*models.CycleOutput, 0, cycleRepeat)
		for i := 0; i < cycleRepeat; i++ {
			input := models.NewCycleInput(cycleContext, cycleObjectives...)
			for k, v := range data {
				input.Data[k] = v
			}

			out, err := executeOnce(ctx, func(ctx context.Context) (*models.CycleOutput, error) {
				return o.ExecuteLoopCycle(ctx, lt, input)
			})
			if err != nil {
				return err
			}
			outputs = append(outputs, out)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if len(outputs) == 1 {
				return WriteOutput(os.Stdout, outputs[0])
			}
			return WriteOutput(os.Stdout, outputs)
		}
		for _, out := range outputs {
			if err := printCycleOutput(lt, out); err != nil {
				return err
			}
		}
		return nil
	},
}

func executeOnce(ctx context.Context, fn func(context.Context) (*models.CycleOutput, error)) (*models.CycleOutput, error) {
	if cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cycleTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// parseData turns key=value pairs into cycle input data.
func parseData(pairs []string) (map[string]any, error) {
	data := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --data %q: expected key=value", pair)
		}
		data[key] = parseValue(raw)
	}
	return data, nil
}

func parseValue(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func printCycleOutput(lt models.LoopType, out *models.CycleOutput) error {
	status := "ok"
	if !out.Success {
		status = "failed"
	}
	fmt.Printf("%s cycle %s: %s (%s)\n", lt, out.CycleID, status, out.Metrics.Latency)

	if len(out.Result) == 0 {
		return nil
	}
	data, err := yaml.Marshal(out.Result)
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}
	return nil
}
