package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bpi-collector/internal/app"
)

var (
	showInput   string
	showLimit   int
	showArchive bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent samples and run statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Input:   showInput,
			Limit:   showLimit,
			Archive: showArchive,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showInput, "input", "", "Run file to display (defaults to the latest run in data_dir)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display")
	showCmd.Flags().BoolVar(&showArchive, "archive", false, "Read recent samples from the Postgres archive")
}
