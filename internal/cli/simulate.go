package cli

import (
	"github.com/spf13/cobra"

	"tokenscope/internal/app"
)

var simulateOpts app.ProjectOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send the alert for a project's next issuance change now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateProject(simulateOpts); err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	projectFlags(simulateCmd, &simulateOpts)
}
