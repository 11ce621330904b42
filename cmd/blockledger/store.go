package blockledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/store"
	"github.com/manifest-network/blockledger/internal/store/memory"
	"github.com/manifest-network/blockledger/internal/store/postgres"
)

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String(config.KeyStoreBackend, config.BackendPostgres, "Store backend (postgres, memory)")
	cmd.Flags().String(config.KeyDatabaseURL, "", "PostgreSQL connection string (also read from DATABASE_URL)")
	cmd.Flags().Int(config.KeyCacheSize, 10000, "Transactions kept in the lookup cache, 0 to disable")
	cmd.Flags().Int(config.KeyMaxOpenConns, 10, "Maximum open database connections")
}

// openStore opens the configured backend, applying migrations to PostgreSQL first.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var s store.Store

	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("Using the in-memory store, nothing survives a restart")
		s = memory.New()
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(pg.DB()); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		s = pg
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.CacheSize > 0 {
		s = store.NewCachedStore(s, cfg.CacheSize)
	}
	return s, nil
}
