package cli

import (
	"github.com/spf13/cobra"
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Fetch one sample and mail a test report immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SendTest(cmd.Context(), cmd.OutOrStdout())
	},
}
