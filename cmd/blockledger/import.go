package blockledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/importer"
)

var readyPollInterval = time.Second

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Stream blocks from a JSON array or newline-delimited file to a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := newClient()
		if err != nil {
			return err
		}

		opts := importer.Options{}
		opts.ShowProgress, _ = cmd.Flags().GetBool(config.KeyProgress)
		opts.ContinueOnReject, _ = cmd.Flags().GetBool("continue-on-reject")

		if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			err := cl.WaitReady(ctx, readyPollInterval)
			cancel()
			if err != nil {
				return err
			}
		}

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			if info, err := f.Stat(); err == nil {
				opts.Size = info.Size()
			}
			r = f
		}

		stats, err := importer.Import(cmd.Context(), r, cl, opts)
		if err != nil {
			return err
		}
		if stats.Rejected > 0 {
			return fmt.Errorf("%d of %d blocks were rejected", stats.Rejected, stats.Rejected+stats.Submitted)
		}
		return nil
	},
}

func init() {
	addClientFlags(importCmd)
	importCmd.Flags().Bool(config.KeyProgress, true, "Show a progress bar")
	importCmd.Flags().Bool("continue-on-reject", false, "Keep importing after the server rejects a block")
	importCmd.Flags().Duration("wait", time.Minute, "How long to wait for the server to finish replay (0 to skip)")
}
