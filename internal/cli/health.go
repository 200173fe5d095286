package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/models"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every subsystem",
	Long: `Start the runtime without drivers, probe every subsystem once and print
the report. Exits 2 when the overall status is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		o, err := startRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer stopRuntime(o, &err)

		report := o.CheckHealth(cmd.Context())

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(os.Stdout, report); err != nil {
				return err
			}
		} else {
			printHealth(report)
		}

		if report.Overall == models.HealthUnhealthy {
			return &ExitError{Code: 2, Err: fmt.Errorf("runtime is unhealthy"), Printed: true}
		}
		return nil
	},
}

func printHealth(report models.HealthReport) {
	fmt.Printf("Overall: %s\n\n", report.Overall)

	w := newTabWriter(os.Stdout)
	fmt.Fprintln(w, "SUBSYSTEM\tSTATUS\tCRITICAL\tMESSAGE")
	for _, name := range sortedKeys(report.Subsystems) {
		critical, message := "-", ""
		if d, ok := report.Details[name]; ok && d != nil {
			critical = fmt.Sprintf("%t", d.Critical)
			message = d.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, report.Subsystems[name], critical, message)
	}
	_ = w.Flush()
}
