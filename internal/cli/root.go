package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokenscope/internal/app"
	"tokenscope/internal/config"
	"tokenscope/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "tokenscope",
	Short: "Issuance, cash-out and holder analytics for continuous-issuance tokens",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(simulateCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// projectFlags binds the --chain and --project flags shared by the report commands.
func projectFlags(cmd *cobra.Command, opts *app.ProjectOptions) {
	cmd.Flags().Int64Var(&opts.ChainID, "chain", 1, "Chain ID of the project deployment")
	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "Project ID")
}

func validateProject(opts app.ProjectOptions) error {
	if opts.ChainID <= 0 {
		return errors.New("--chain must be greater than zero")
	}
	if opts.ProjectID <= 0 {
		return errors.New("--project must be greater than zero")
	}
	return nil
}
