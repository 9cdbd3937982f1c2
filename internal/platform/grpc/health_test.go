package grpc

import (
	"context"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWaitForHealth(t *testing.T) {
	t.Run("serving", func(t *testing.T) {
		addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := WaitForHealth(ctx, dialPlain(t, addr), "", nil); err != nil {
			t.Fatalf("wait for health: %v", err)
		}
	})

	t.Run("becomes serving", func(t *testing.T) {
		addr, setStatus, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		defer stop()

		time.AfterFunc(150*time.Millisecond, func() {
			setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
		})

		var lines int
		logf := func(string, ...any) { lines++ }
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := WaitForHealth(ctx, dialPlain(t, addr), "", logf); err != nil {
			t.Fatalf("wait for health: %v", err)
		}
		if lines < 2 {
			t.Fatalf("expected waiting and serving log lines, got %d", lines)
		}
	})

	t.Run("context ends", func(t *testing.T) {
		addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		if err := WaitForHealth(ctx, dialPlain(t, addr), "", nil); err == nil {
			t.Fatal("expected context error")
		}
	})

	t.Run("nil connection", func(t *testing.T) {
		if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
			t.Fatal("expected error for nil connection")
		}
	})
}

// startHealthServer runs a Server whose health status the test controls.
func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) (string, func(grpc_health_v1.HealthCheckResponse_ServingStatus), func()) {
	t.Helper()

	server, err := NewServer("health-test", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server.Health().SetServingStatus("", status)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx)
	}()

	setStatus := func(next grpc_health_v1.HealthCheckResponse_ServingStatus) {
		server.Health().SetServingStatus("", next)
	}
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			server.Stop()
		}
	}
	return server.Addr(), setStatus, stop
}

func dialPlain(t *testing.T, addr string) *gogrpc.ClientConn {
	t.Helper()
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
