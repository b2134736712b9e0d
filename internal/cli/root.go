package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bpi-collector/internal/app"
	"bpi-collector/internal/config"
	"bpi-collector/internal/logging"
)

var (
	cfgFile   string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "bpicollector",
	Short:         "Sample crypto spot prices and mail a run report",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", "", "Override log level defined in config")
	flags.Int("samples", 0, "Number of samples per run")
	flags.Int("interval", 0, "Seconds between samples")
	flags.StringSlice("pairs", nil, "Comma-separated currency pairs, e.g. BTC-USD,ETH-USD")
	flags.String("data-dir", "", "Directory for run files")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(sendTestCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
