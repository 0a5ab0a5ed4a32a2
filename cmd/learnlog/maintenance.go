package main

import (
	"context"

	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Prune stale patterns and optimize the database once",
	Long: `Deletes patterns that never succeeded and were last used before
maintenance.pattern_retention_days ago, then refreshes planner statistics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.maintenance.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
}
