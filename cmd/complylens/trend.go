package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	trendDays      int
	trendMaxPoints int
)

var trendCmd = &cobra.Command{
	Use:   "trend <identifier>",
	Short: "Sample compliance history into daily data points and control movement.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if trendDays < 1 {
			return fmt.Errorf("--days must be positive, got %d", trendDays)
		}
		if trendMaxPoints < 1 {
			return fmt.Errorf("--max-points must be positive, got %d", trendMaxPoints)
		}
		return runApp(cmd, func(ctx context.Context, a *app) error {
			to := time.Now().UTC()
			from := to.AddDate(0, 0, -trendDays)
			report, err := a.sampler.Sample(ctx, args[0], from, to, trendMaxPoints)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})
	},
}

func init() {
	trendCmd.Flags().IntVar(&trendDays, "days", 90, "Length of the sampling window in days")
	trendCmd.Flags().IntVar(&trendMaxPoints, "max-points", 30, "Maximum number of data points")
}
