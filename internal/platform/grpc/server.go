package grpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/louisbranch/venue/internal/platform/timeouts"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts a gRPC listener with the standard health service attached.
type Server struct {
	name     string
	listener net.Listener
	grpc     *gogrpc.Server
	health   *health.Server
}

// NewServer listens on addr and prepares a gRPC server with otelgrpc stats
// and health registered. Callers register their services on GRPC() before
// Serve.
func NewServer(name, addr string, opts ...gogrpc.ServerOption) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	opts = append([]gogrpc.ServerOption{gogrpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	grpcServer := gogrpc.NewServer(opts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return &Server{
		name:     name,
		listener: listener,
		grpc:     grpcServer,
		health:   healthServer,
	}, nil
}

// GRPC exposes the underlying server for service registration.
func (s *Server) GRPC() *gogrpc.Server {
	return s.grpc
}

// Health exposes the health server so services can publish their status.
func (s *Server) Health() *health.Server {
	return s.health
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("%s gRPC listening at %v", s.name, s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeouts.Shutdown):
			// Open watch streams never drain on their own.
			s.grpc.Stop()
		}
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// Stop halts the server immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
	_ = s.listener.Close()
}
