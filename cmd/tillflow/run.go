package main

import (
	"context"
	"os"

	"github.com/aretw0/tillflow/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flow-file]",
	Short: "Drive a conversation interactively",
	Long: `Begins a conversation for one device and reads actions from standard input,
one per line: an action name optionally followed by a JSON payload. Lines
starting with '!' broadcast an external event. Type 'quit' to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{FlowFile: flowPath(cmd, args)}
		opts.DeviceID, _ = cmd.Flags().GetString("device")
		opts.Headless, _ = cmd.Flags().GetBool("headless")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		opts.Seed, _ = cmd.Flags().GetString("seed")
		opts.RedisURL, _ = cmd.Flags().GetString("redis")
		opts.SnapshotDir, _ = cmd.Flags().GetString("snapshots")

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		in := cli.NewInterruptibleReader(os.Stdin, ctx.Done())
		return cli.Execute(ctx, opts, in, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("device", "terminal", "Device id of the conversation")
	runCmd.Flags().Bool("headless", false, "Plain text screens, no prompt")
	runCmd.Flags().Bool("json", false, "Print every screen as a JSON line")
	runCmd.Flags().Bool("debug", false, "Log lifecycle events to stderr")
	runCmd.Flags().String("seed", "", "JSON object copied into the device scope")
	runCmd.Flags().String("redis", "", "Redis URL for conversation snapshots")
	runCmd.Flags().String("snapshots", "", "Directory for conversation snapshots (JSON files)")
}
