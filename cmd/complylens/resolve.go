package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/complylens/complylens/internal/resolve"
)

var (
	resolveBranch string
	resolveCommit string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <identifier>",
	Short: "Resolve an asset identifier to canonical registry identity.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd, func(ctx context.Context, a *app) error {
			resolved, err := a.resolver.Resolve(ctx, args[0], resolve.Options{
				Branch: resolveBranch,
				Commit: resolveCommit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, resolved)
		})
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveBranch, "branch", "", "Branch hint")
	resolveCmd.Flags().StringVar(&resolveCommit, "commit", "", "Commit SHA or prefix hint")
}
