package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/baseline"
	"github.com/claimwatch/claimwatch/internal/drift"
	"github.com/claimwatch/claimwatch/internal/engine"
	"github.com/claimwatch/claimwatch/internal/history"
	"github.com/claimwatch/claimwatch/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "claimwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		poolCfg := store.PoolConfig(cfg.Store.Pool)
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// tenantLister is implemented by both history readers; the batch detect
// command uses it to fan out across every tenant with claims on file.
type tenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// initReader returns the claim history reader matching the store backend.
func initReader(st store.Store) (history.Reader, error) {
	switch s := st.(type) {
	case *store.PostgresStore:
		return history.NewPGReader(s.Pool()), nil
	case *store.SQLiteStore:
		return history.NewSQLiteReader(s.DB()), nil
	default:
		return nil, eris.Errorf("no history reader for store %T", st)
	}
}

// initCoordinator assembles the detection pipeline over an open store.
func initCoordinator(st store.Store) (*engine.Coordinator, history.Reader, error) {
	reader, err := initReader(st)
	if err != nil {
		return nil, nil, err
	}
	calc := baseline.NewCalculator(cfg.Windows, cfg.Confidence)
	detector := drift.NewDetector(cfg.Drift)
	lockTimeout := time.Duration(cfg.Engine.LockTimeoutSecs) * time.Second
	return engine.NewCoordinator(st, reader, calc, detector, lockTimeout), reader, nil
}
