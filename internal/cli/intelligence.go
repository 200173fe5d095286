package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var intelDescription string

func init() {
	rootCmd.AddCommand(intelligenceCmd)
	intelligenceCmd.AddCommand(intelligenceCreateCmd)

	intelligenceCreateCmd.Flags().StringVarP(&intelDescription, "description", "d", "", "description")
}

var intelligenceCmd = &cobra.Command{
	Use:     "intelligence",
	Aliases: []string{"intel"},
	Short:   "Manage intelligences",
}

var intelligenceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new intelligence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		o, err := startRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer stopRuntime(o, &err)

		intel, err := o.CreateIntelligence(cmd.Context(), args[0], intelDescription)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, intel)
		}
		fmt.Printf("Created intelligence %s (%s)\n", intel.Name, intel.ID)
		fmt.Printf("  Architecture: %s\n", intel.ArchitectureID)
		return nil
	},
}
