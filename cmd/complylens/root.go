package main

import (
	"github.com/spf13/cobra"

	"github.com/complylens/complylens/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "complylens",
	Short:         "Complylens resolves asset identifiers and aggregates compliance evidence.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
			Command: cmd.CommandPath(),
			Writer:  cmd.ErrOrStderr(),
		})
		return err
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(resolveCmd, statusCmd, trendCmd, commitsCmd, versionCmd)
}
