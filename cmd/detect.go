package main

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/claimwatch/claimwatch/internal/engine"
	"github.com/claimwatch/claimwatch/internal/history"
)

var (
	detectTenant string
	detectAsOf   string
	detectAll    bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run a drift detection pass",
	Long:  "Recomputes baselines and scans the current window for drift. Safe to invoke concurrently: passes for the same tenant serialize on the tenant lock, and duplicate findings are absorbed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if detectTenant == "" && !detectAll {
			return eris.New("either --tenant or --all is required")
		}

		asOf := time.Now().UTC()
		if detectAsOf != "" {
			parsed, err := time.Parse("2006-01-02", detectAsOf)
			if err != nil {
				return eris.Wrapf(err, "parse --as-of %q", detectAsOf)
			}
			asOf = parsed
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		coord, reader, err := initCoordinator(st)
		if err != nil {
			return err
		}

		if detectAll {
			return detectAllTenants(ctx, coord, reader, asOf)
		}

		result, err := coord.RunDriftDetection(ctx, detectTenant, asOf)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

// detectAllTenants runs one pass per tenant with bounded concurrency.
// Tenants are independent, so one tenant's failure does not stop the rest;
// the command fails afterwards if any pass failed.
func detectAllTenants(ctx context.Context, coord *engine.Coordinator, reader history.Reader, asOf time.Time) error {
	lister, ok := reader.(tenantLister)
	if !ok {
		return eris.New("store backend cannot enumerate tenants")
	}
	tenants, err := lister.ListTenants(ctx)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("component", "detect"))
	results := make([]*engine.RunResult, len(tenants))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Engine.MaxConcurrentTenants)
	for i, tenant := range tenants {
		g.Go(func() error {
			result, err := coord.RunDriftDetection(gctx, tenant, asOf)
			if err != nil {
				log.Error("tenant pass failed", zap.String("tenant", tenant), zap.Error(err))
				failed.Add(1)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := make([]*engine.RunResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return eris.Errorf("%d of %d tenant passes failed", n, len(tenants))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	detectCmd.Flags().StringVar(&detectTenant, "tenant", "", "tenant to scan")
	detectCmd.Flags().StringVar(&detectAsOf, "as-of", "", "scan as of this date (YYYY-MM-DD, default now)")
	detectCmd.Flags().BoolVar(&detectAll, "all", false, "scan every tenant with claims on file")
	rootCmd.AddCommand(detectCmd)
}
