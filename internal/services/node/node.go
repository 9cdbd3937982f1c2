// Package node joins a process to the venue cluster: it dials the discovery
// hub, serves the Router gRPC service and builds the process Directory over
// the cross-process backend.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/venue/internal/discovery"
	platformgrpc "github.com/louisbranch/venue/internal/platform/grpc"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"github.com/louisbranch/venue/internal/routing"
	gogrpc "google.golang.org/grpc"
)

// Config describes one cluster member.
type Config struct {
	// Name labels the process in logs.
	Name string
	// GRPCAddr is the Router listen address.
	GRPCAddr string
	// AdvertiseAddr is how peers reach GRPCAddr; empty uses the listener
	// address.
	AdvertiseAddr string
	// DiscoveryAddr is the hub address.
	DiscoveryAddr string
}

// Node is a joined process.
type Node struct {
	server  *platformgrpc.Server
	conn    *gogrpc.ClientConn
	backend *routing.RemoteBackend
	dir     *routing.Directory
}

// Join dials the hub, listens for peers and starts following the discovery
// table until ctx ends. Serve must run for peers to reach this process.
func Join(ctx context.Context, cfg Config) (*Node, error) {
	if strings.TrimSpace(cfg.DiscoveryAddr) == "" {
		return nil, errors.New("discovery address is required")
	}
	conn, err := platformgrpc.DialWithHealth(ctx, nil, cfg.DiscoveryAddr, timeouts.GRPCDial, log.Printf,
		platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("dial discovery: %w", err)
	}
	server, err := platformgrpc.NewServer(cfg.Name, cfg.GRPCAddr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	advertise := strings.TrimSpace(cfg.AdvertiseAddr)
	if advertise == "" {
		advertise = server.Addr()
	}

	backend := routing.NewRemoteBackend(discovery.NewClient(conn), advertise, nil)
	dir := routing.NewDirectory(backend)
	routing.NewRouterServer(dir).Register(server.GRPC())
	if err := backend.Start(ctx); err != nil {
		server.Stop()
		_ = conn.Close()
		return nil, err
	}
	log.Printf("%s joined discovery at %s as %s", cfg.Name, cfg.DiscoveryAddr, advertise)
	return &Node{server: server, conn: conn, backend: backend, dir: dir}, nil
}

// Directory returns the process directory.
func (n *Node) Directory() *routing.Directory {
	return n.dir
}

// Addr returns the Router listener address.
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Serve serves peers until ctx ends.
func (n *Node) Serve(ctx context.Context) error {
	return n.server.Serve(ctx)
}

// Close withdraws every advertised service and releases connections.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	if err := n.backend.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if err := n.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close discovery conn: %w", err))
	}
	return errors.Join(errs...)
}
