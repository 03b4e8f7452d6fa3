package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tillflow/internal/presentation/graph"
	"github.com/aretw0/tillflow/pkg/adapters/flowfile"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [flow-file]",
	Short: "Export the flow graph visualization",
	Long:  `Compiles the flow file and outputs a Mermaid diagram (graph TD) with one subgraph per flow.`,
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := flowfile.Load(flowPath(cmd, args))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error loading flow: %v\n", err)
			os.Exit(1)
		}
		def, err := doc.Compile(nil)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error compiling flow: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
