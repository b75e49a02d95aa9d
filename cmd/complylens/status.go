package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	statusBranch string
	statusCommit string
)

var statusCmd = &cobra.Command{
	Use:   "status <identifier>",
	Short: "Compute the aggregate compliance snapshot for an asset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd, func(ctx context.Context, a *app) error {
			status, err := a.service.Status(ctx, args[0], statusBranch, statusCommit)
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusBranch, "branch", "", "Branch hint")
	statusCmd.Flags().StringVar(&statusCommit, "commit", "", "Commit SHA or prefix hint")
}
