package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/tillflow/internal/cli"
	"github.com/aretw0/tillflow/internal/config"
	"github.com/aretw0/tillflow/internal/logging"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve [flow-file]",
	Short: "Start the HTTP server",
	Long: `Runs conversations for any number of devices behind a JSON API, with
server-sent screen streams and Prometheus metrics. Settings come from
TILLFLOW_* environment variables; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("flow") || len(args) > 0 || cfg.FlowFile == "" {
			cfg.FlowFile = flowPath(cmd, args)
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("redis") {
			cfg.RedisURL, _ = cmd.Flags().GetString("redis")
		}

		level, err := cfg.Level()
		if err != nil {
			return err
		}
		logger := logging.NewWithFormat(os.Stderr, level, logging.Format(cfg.LogFormat))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return cli.Serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("redis", "", "Redis URL for conversation snapshots and locks")
}
