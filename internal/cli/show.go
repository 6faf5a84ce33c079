package cli

import (
	"github.com/spf13/cobra"

	"tokenscope/internal/app"
)

var showOpts app.ShowOptions

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the issuance schedule and cash-out value of a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateProject(showOpts.ProjectOptions); err != nil {
			return err
		}
		return getApp().Show(cmd.Context(), showOpts)
	},
}

func init() {
	projectFlags(showCmd, &showOpts.ProjectOptions)
	showCmd.Flags().DurationVar(&showOpts.Horizon, "horizon", 0, "How far ahead to chart issuance (defaults to config)")
	showCmd.Flags().BoolVar(&showOpts.Live, "live", false, "Also query the terminal balance and token price")
	showCmd.Flags().IntVar(&showOpts.Alerts, "alerts", 5, "Number of recent issuance alerts to list (0 to skip)")
}
