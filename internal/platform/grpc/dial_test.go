package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialWithHealth(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := DialWithHealth(ctx, nil, addr, time.Second, nil, DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	_ = conn.Close()
}

func TestDialWithHealthStages(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		dialer := DialerFunc(func(context.Context, string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
			return nil, fmt.Errorf("refused")
		})
		_, err := DialWithHealth(context.Background(), dialer, "peer:1", time.Second, nil)
		var dialErr *DialError
		if !errors.As(err, &dialErr) || dialErr.Stage != DialStageConnect {
			t.Fatalf("expected connect stage error, got %v", err)
		}
		if !strings.Contains(err.Error(), "peer:1") {
			t.Fatalf("expected address in error, got %q", err.Error())
		}
	})

	t.Run("health bounded by dial timeout", func(t *testing.T) {
		addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		defer stop()

		start := time.Now()
		conn, err := DialWithHealth(context.Background(), nil, addr, 200*time.Millisecond, nil, DefaultClientDialOptions()...)
		var dialErr *DialError
		if !errors.As(err, &dialErr) || dialErr.Stage != DialStageHealth {
			t.Fatalf("expected health stage error, got %v", err)
		}
		if conn != nil {
			t.Fatal("expected no connection on failure")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("dial took %v", elapsed)
		}
	})
}

func TestDialErrorNil(t *testing.T) {
	var err *DialError
	if err.Error() == "" || err.Unwrap() != nil {
		t.Fatal("nil DialError should format and unwrap to nil")
	}
}
