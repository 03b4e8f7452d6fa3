package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tillflow/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tillflow",
	Short: "tillflow runs conversation flows on retail terminals",
	Long: `tillflow drives one conversation per device (POS lane, self-checkout, kiosk)
through a graph of states declared in a YAML or JSON flow file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet && cmd.Name() == "run" {
			tui.PrintBanner(cmd.ErrOrStderr())
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("flow", "flow.yaml", "Flow file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Do not print the banner")
}

// flowPath returns the flow file from the first argument or the --flow flag.
func flowPath(cmd *cobra.Command, args []string) string {
	path, _ := cmd.Flags().GetString("flow")
	if !cmd.Flags().Changed("flow") && len(args) > 0 {
		path = args[0]
	}
	return path
}
