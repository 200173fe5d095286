package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/orchestrator"
)

var (
	runDuration  time.Duration
	runNoDrivers bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runNoDrivers, "no-drivers", false, "start without cadence drivers")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the loop runtime",
	Long: `Start every loop with a cadence driver and run until interrupted.

On SIGINT or SIGTERM the runtime stops accepting cycles, lets in-flight
cycles finish within runtime.shutdown_grace and prints final stats.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		drivers := !runNoDrivers
		o, err := startRuntime(ctx, drivers)
		if err != nil {
			return err
		}

		logger.Info().
			Bool("drivers", drivers).
			Dur("duration", runDuration).
			Msg("runtime running")

		waitForShutdown(ctx, runDuration)

		stats := o.Stats()
		if err := o.Stop(context.Background()); err != nil {
			return fmt.Errorf("failed to stop runtime: %w", err)
		}
		stats.State = o.State()

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, stats)
		}
		printStats(stats)
		return nil
	},
}

func waitForShutdown(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func printStats(stats orchestrator.Stats) {
	fmt.Printf("State:   %s\n", stats.State)
	fmt.Printf("Uptime:  %s\n", stats.Uptime.Round(time.Millisecond))
	fmt.Printf("Health:  %s\n", stats.Health)
	fmt.Printf("Events:  %d\n", stats.Events)
	fmt.Println()

	w := newTabWriter(os.Stdout)
	fmt.Fprintln(w, "LOOP\tCYCLES\tSUCCESS\tAVG")
	for _, name := range sortedKeys(stats.Loops) {
		ts := stats.Loops[name]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%s\n", name, ts.CyclesCompleted, ts.SuccessRate*100, ts.AverageCycleTime)
	}
	_ = w.Flush()

	if len(stats.Breakers) > 0 {
		fmt.Println()
		w = newTabWriter(os.Stdout)
		fmt.Fprintln(w, "BREAKER\tSTATE\tFAILURES")
		for _, b := range stats.Breakers {
			fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, b.State, b.ConsecutiveFailures)
		}
		_ = w.Flush()
	}
}
