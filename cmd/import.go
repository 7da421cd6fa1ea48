package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/ingest"
	"github.com/claimwatch/claimwatch/internal/store"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import adjudicated claims from a CSV export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open %s", importCSVPath)
		}
		defer f.Close() //nolint:errcheck

		records, skipped, err := ingest.ParseCSV(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		loader, err := initLoader(st)
		if err != nil {
			return err
		}

		loaded, err := loader.Load(ctx, records)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int64("loaded", loaded),
			zap.Int("skipped", skipped),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func initLoader(st store.Store) (ingest.Loader, error) {
	switch s := st.(type) {
	case *store.PostgresStore:
		return ingest.NewPGLoader(s.Pool()), nil
	case *store.SQLiteStore:
		return ingest.NewSQLiteLoader(s.DB()), nil
	default:
		return nil, eris.Errorf("no claim loader for store %T", st)
	}
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
