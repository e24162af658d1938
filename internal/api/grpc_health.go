package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ChatServiceName is the service name reported by the gRPC health server.
const ChatServiceName = "cashback.advisor.Chat"

// GRPCHealth serves the standard grpc.health.v1 protocol for orchestrators
// that probe over gRPC. Serving status follows the database ping.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
}

// NewGRPCHealth creates the health server. db may be nil, in which case the
// service always reports SERVING.
func NewGRPCHealth(db Pinger, interval time.Duration) *GRPCHealth {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{server: srv, health: hs, db: db, interval: interval}
}

// Serve blocks serving on lis until ctx is done, then stops gracefully.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.check(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.check(ctx)
			}
		}
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}

func (g *GRPCHealth) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if g.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := g.db.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("gRPC health: database unreachable", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ChatServiceName, status)
}
