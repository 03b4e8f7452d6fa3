package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tillflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tillflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tillflow version %s\n", strings.TrimSpace(tillflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
