package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tillflow/internal/validator"
	"github.com/aretw0/tillflow/pkg/adapters/flowfile"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow-file]",
	Short: "Check the flow graph for consistency",
	Long: `Compiles the entry flow and every flow it embeds, then crawls each one from its
initial state and reports unreachable states and dead ends.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(flowPath(cmd, args)); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Flow is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	doc, err := flowfile.Load(path)
	if err != nil {
		return err
	}
	def, err := doc.Compile(nil)
	if err != nil {
		return err
	}
	return validator.ValidateGraph(def)
}
