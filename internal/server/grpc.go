package server

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported alongside the server-wide status.
const HealthService = "blockledger.Ledger"

// Health serves the gRPC health protocol. Both the server-wide status and
// HealthService report NOT_SERVING until SetServing is called.
type Health struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewHealth() *Health {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Health{grpc: srv, health: hs}
}

// SetServing marks the ledger as ready.
func (h *Health) SetServing() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
}

// Serve accepts connections on lis until Stop.
func (h *Health) Serve(lis net.Listener) error {
	slog.Info("Serving gRPC health", "address", lis.Addr().String())
	return h.grpc.Serve(lis)
}

// Stop drains in-flight health checks, or stops immediately once ctx is done.
func (h *Health) Stop(ctx context.Context) {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.grpc.Stop()
	}
}
