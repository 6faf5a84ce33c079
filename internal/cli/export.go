package cli

import (
	"github.com/spf13/cobra"

	"tokenscope/internal/app"
	"tokenscope/internal/report"
)

var exportOpts app.ExportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an issuance, cash-out or holders series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateProject(exportOpts.ProjectOptions); err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), exportOpts)
	},
}

func init() {
	projectFlags(exportCmd, &exportOpts.ProjectOptions)
	exportCmd.Flags().StringVar(&exportOpts.Series, "series", report.KindIssuance, "Series to export: issuance, cashout or holders")
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().DurationVar(&exportOpts.Horizon, "horizon", 0, "How far ahead to chart issuance (defaults to config)")
}
