package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect a full run of samples and deliver the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Fetch and store a single sample, then print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context(), cmd.OutOrStdout())
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start a full run on every tick of daemon.cron",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Daemon(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}
