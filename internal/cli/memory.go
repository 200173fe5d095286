package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/models"
)

var (
	memoryImportance float64
	memoryMeta       []string
	recallLimit      int
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memoryRecallCmd)

	memoryStoreCmd.Flags().Float64Var(&memoryImportance, "importance", 0.5, "importance in [0,1]")
	memoryStoreCmd.Flags().StringArrayVar(&memoryMeta, "meta", nil, "metadata as key=value (repeatable)")

	memoryRecallCmd.Flags().IntVarP(&recallLimit, "limit", "k", 0, "maximum results (default memory.recall_limit)")
}

var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Store and recall memories",
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store <key> <content>",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		meta, err := parseMeta(memoryMeta)
		if err != nil {
			return err
		}
		m := &models.Memory{
			Key:        args[0],
			Content:    strings.Join(args[1:], " "),
			Importance: memoryImportance,
			Metadata:   meta,
		}

		o, err := startRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer stopRuntime(o, &err)

		if err := o.Store(cmd.Context(), m); err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, m)
		}
		fmt.Printf("Stored memory %q\n", m.Key)
		return nil
	},
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Recall memories similar to a query",
	Long: `Recall the memories most similar to the query.

When vector memory is degraded the query is used as an exact key instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		query := strings.Join(args, " ")

		o, err := startRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer stopRuntime(o, &err)

		hits, err := o.Recall(cmd.Context(), query, recallLimit)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, hits)
		}
		if len(hits) == 0 {
			fmt.Println("No memories found")
			return nil
		}
		w := newTabWriter(os.Stdout)
		fmt.Fprintln(w, "SCORE\tKEY\tIMPORTANCE\tCONTENT")
		for _, hit := range hits {
			fmt.Fprintf(w, "%.3f\t%s\t%.2f\t%s\n", hit.Score, hit.Memory.Key, hit.Memory.Importance, truncate(hit.Memory.Content, 60))
		}
		return w.Flush()
	},
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", pair)
		}
		meta[strings.TrimSpace(key)] = value
	}
	return meta, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
