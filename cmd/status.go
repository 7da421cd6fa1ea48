package main

import (
	"github.com/spf13/cobra"

	"github.com/claimwatch/claimwatch/internal/monitoring"
)

var (
	statusTenant   string
	statusLookback int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback := statusLookback
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackHours
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusTenant, lookback)
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusTenant, "tenant", "", "scope to one tenant (default all)")
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(statusCmd)
}
