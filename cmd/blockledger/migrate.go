package blockledger

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.LoadStoreConfig(v)
		cfg.Backend = config.BackendPostgres
		if err := cfg.Validate(); err != nil {
			return err
		}

		pg, err := postgres.Open(cmd.Context(), cfg.DatabaseURL, postgres.Options{MaxOpenConns: 1})
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := postgres.Migrate(pg.DB()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().String(config.KeyDatabaseURL, "", "PostgreSQL connection string (also read from DATABASE_URL)")
}
