package api

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type togglePinger struct {
	mu  sync.Mutex
	err error
}

func (p *togglePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *togglePinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func startGRPCHealth(t *testing.T, db Pinger) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	srv := NewGRPCHealth(db, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGRPCHealth_Serving(t *testing.T) {
	client := startGRPCHealth(t, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ChatServiceName))
}

func TestGRPCHealth_FollowsDatabase(t *testing.T) {
	db := &togglePinger{}
	client := startGRPCHealth(t, db)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ChatServiceName))

	db.set(errors.New("database is locked"))
	assert.Eventually(t, func() bool {
		return checkStatus(t, client, ChatServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	db.set(nil)
	assert.Eventually(t, func() bool {
		return checkStatus(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}
