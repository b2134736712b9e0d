package cli

import (
	"github.com/spf13/cobra"

	"bpi-collector/internal/app"
)

var (
	exportInput     string
	exportPNGPath   string
	exportCSVPath   string
	exportPDFPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run as CSV, PNG chart and/or PDF report",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Input:     exportInput,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			PDFPath:   exportPDFPath,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportInput, "input", "", "Run file to export (defaults to the latest run in data_dir)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportPDFPath, "pdf", "", "Path to write PDF report")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points in CSV and PNG (0 keeps all)")
}
