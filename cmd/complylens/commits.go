package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	commitsBranch string
	commitsLimit  int
)

var commitsCmd = &cobra.Command{
	Use:   "commits <identifier>",
	Short: "Summarize recent commit activity per author for an asset.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd, func(ctx context.Context, a *app) error {
			summary, err := a.resolver.CommitSummary(ctx, args[0], commitsBranch, commitsLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		})
	},
}

func init() {
	commitsCmd.Flags().StringVar(&commitsBranch, "branch", "", "Branch to summarize; defaults to the asset's default branch")
	commitsCmd.Flags().IntVar(&commitsLimit, "limit", 20, "Maximum number of commits to consider")
}
