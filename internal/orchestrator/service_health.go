package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health name reported for the worker backend.
const HealthService = "testbench.workers"

const healthPollInterval = 5 * time.Second

// updateHealth reflects the current worker state into srv, both for the
// named service and the overall server.
func updateHealth(ctx context.Context, e *Engine, srv *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	h, err := e.WorkerHealth(ctx)
	if err != nil || !h.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		e.logger.Warn("worker backend unhealthy", "backend", h.Backend, "message", h.Message, "error", err)
	}
	srv.SetServingStatus(HealthService, status)
	srv.SetServingStatus("", status)
	return status
}

// ServeHealth exposes the standard gRPC health protocol on addr until ctx
// ends. Worker health is polled periodically.
func ServeHealth(ctx context.Context, addr string, e *Engine) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, srv)
	updateHealth(ctx, e, srv)

	go func() {
		ticker := time.NewTicker(healthPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				srv.Shutdown()
				grpcServer.GracefulStop()
				return
			case <-ticker.C:
				updateHealth(ctx, e, srv)
			}
		}
	}()

	slog.Info("health server listening", "addr", lis.Addr().String())
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve health: %w", err)
	}
	return nil
}
