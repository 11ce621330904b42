package blockledger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/manifest-network/blockledger/internal/config"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "blockledger",
	Short: "Block ledger with balance tracking and rollback",
	Long: `blockledger validates and stores blocks of transactions, keeps the balance
of every address up to date, and can roll the chain back to an earlier height.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String(config.KeyLogFormat, "text", "Log format (text, json)")

	rootCmd.AddCommand(serveCmd, migrateCmd, blockCmd, balanceCmd, rollbackCmd, importCmd, healthCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup binds the flags of the running command and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	logCfg := config.LoadLogConfig(v)
	if err := logCfg.Validate(); err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: logCfg.SlogLevel()}
	var handler slog.Handler
	if logCfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
