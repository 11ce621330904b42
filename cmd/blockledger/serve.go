package blockledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/blockledger/internal/chain"
	"github.com/manifest-network/blockledger/internal/config"
	"github.com/manifest-network/blockledger/internal/ledger"
	"github.com/manifest-network/blockledger/internal/metrics"
	"github.com/manifest-network/blockledger/internal/server"
	"github.com/manifest-network/blockledger/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Rebuild the ledger from the store and serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.LoadServeConfig(v)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String(config.KeyAddress, ":3000", "HTTP API listen address")
	f.String(config.KeyMetricsAddress, ":2112", "Prometheus metrics listen address, empty to disable")
	f.String(config.KeyGRPCAddress, "", "gRPC health listen address, empty to disable")
	f.Int(config.KeyReplayPageSize, chain.DefaultPageSize, "Transactions read per page while rebuilding the ledger")
	f.String(config.KeyReplayOrder, string(store.OrderAcceptance), "Replay order (acceptance, id)")
	f.Bool(config.KeyProgress, false, "Show a progress bar while rebuilding the ledger")
	f.Bool(config.KeyAllowMultipleCoinbase, true, "Allow more than one transaction in the first block")
	f.Duration(config.KeyShutdownTimeout, 10*time.Second, "Time allowed for in-flight requests on shutdown")
	addStoreFlags(serveCmd)
}

func serve(ctx context.Context, cfg config.ServeConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	order, err := store.ParseScanOrder(cfg.Replay.Order)
	if err != nil {
		return err
	}

	m := metrics.New()
	c := chain.New(s, ledger.New(), m, chain.Config{
		PageSize:     cfg.Replay.PageSize,
		ReplayOrder:  order,
		ShowProgress: cfg.Replay.ShowProgress,
		Genesis:      chain.GenesisPolicy{AllowMultipleCoinbase: cfg.AllowMultipleCoinbase},
	})

	eg, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{
		Addr:              cfg.Address,
		Handler:           server.NewHandler(c),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	for _, srv := range servers {
		eg.Go(func() error {
			slog.Info("Listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	health := server.NewHealth()
	if cfg.GRPCAddress != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddress, err)
		}
		eg.Go(func() error {
			return health.Serve(lis)
		})
	}

	eg.Go(func() error {
		if err := c.Bootstrap(ctx); err != nil {
			return err
		}
		health.SetServing()
		slog.Info("Ready to accept blocks")
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Server did not shut down cleanly", "address", srv.Addr, "error", err)
			}
		}
		health.Stop(shutdownCtx)
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
