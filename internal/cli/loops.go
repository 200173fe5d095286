package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/models"
)

func init() {
	rootCmd.AddCommand(loopsCmd)
}

// loopTypeInfo is one row of `omega loops`.
type loopTypeInfo struct {
	Name          string        `json:"name"`
	Level         int           `json:"level"`
	Cadence       time.Duration `json:"cadence"`
	Interval      time.Duration `json:"interval"`
	LatencyBudget time.Duration `json:"latency_budget"`
	Description   string        `json:"description"`
}

var loopsCmd = &cobra.Command{
	Use:   "loops",
	Short: "List loop types and their cadences",
	Long: `List the seven loop types from fastest to slowest.

INTERVAL is the driver cadence after loops.intervals overrides and the
loops.min_interval floor are applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := make([]loopTypeInfo, 0, len(models.AllLoopTypes()))
		for _, lt := range models.AllLoopTypes() {
			infos = append(infos, loopTypeInfo{
				Name:          lt.String(),
				Level:         int(lt),
				Cadence:       lt.Cadence(),
				Interval:      appConfig.LoopInterval(lt.String(), lt.Cadence()),
				LatencyBudget: lt.LatencyBudget(),
				Description:   lt.Description(),
			})
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, infos)
		}

		w := newTabWriter(os.Stdout)
		fmt.Fprintln(w, "NAME\tCADENCE\tINTERVAL\tBUDGET\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				info.Name,
				formatCadence(info.Cadence),
				formatCadence(info.Interval),
				formatCadence(info.LatencyBudget),
				info.Description,
			)
		}
		return w.Flush()
	},
}

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

// formatCadence renders durations past a day in days or years.
func formatCadence(d time.Duration) string {
	const (
		day  = 24 * time.Hour
		year = 365 * day
	)
	switch {
	case d >= year && d%year == 0:
		return fmt.Sprintf("%dy", d/year)
	case d >= day && d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	default:
		return d.String()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
