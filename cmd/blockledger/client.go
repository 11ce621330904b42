package blockledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/manifest-network/blockledger/internal/client"
	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/importer"
	"github.com/manifest-network/blockledger/internal/utils"
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String(config.KeyURL, "http://localhost:3000", "Server URL")
	cmd.Flags().Duration(config.KeyTimeout, 30*time.Second, "Request timeout")
}

func newClient() (*client.Client, error) {
	cfg := config.LoadClientConfig(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return client.New(cfg), nil
}

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Work with blocks on a running server",
}

var blockSubmitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit the blocks in a JSON file, in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient()
		if err != nil {
			return err
		}
		blocks, err := importer.ReadFile(args[0])
		if err != nil {
			return err
		}
		for _, b := range blocks {
			if err := cl.SubmitBlock(cmd.Context(), b); err != nil {
				return err
			}
			slog.Info("Block accepted", "height", b.Height, "id", b.ID)
		}
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Print the balance of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient()
		if err != nil {
			return err
		}
		balance, err := cl.Balance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int64{args[0]: balance})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <height>",
	Short: "Remove every block above height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := utils.ParseHeight(args[0])
		if err != nil {
			return err
		}
		cl, err := newClient()
		if err != nil {
			return err
		}
		if err := cl.Rollback(cmd.Context(), height); err != nil {
			return err
		}
		slog.Info("Rolled back", "height", height)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health <grpc-address>",
	Short: "Query the gRPC health service of a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		plaintext, _ := cmd.Flags().GetBool("plaintext")

		ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(config.KeyTimeout))
		defer cancel()

		status, err := client.CheckHealth(ctx, args[0], service, plaintext)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), status.String())
		return err
	},
}

func init() {
	blockCmd.AddCommand(blockSubmitCmd)
	addClientFlags(blockSubmitCmd)
	addClientFlags(balanceCmd)
	addClientFlags(rollbackCmd)

	healthCmd.Flags().String("service", "", "Service to check, empty for the whole server")
	healthCmd.Flags().Bool("plaintext", false, "Connect without TLS")
	healthCmd.Flags().Duration(config.KeyTimeout, 5*time.Second, "Request timeout")
}
