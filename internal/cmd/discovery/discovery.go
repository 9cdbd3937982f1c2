// Package discovery parses discovery hub flags and serves the hub.
package discovery

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/louisbranch/venue/internal/discovery"
	discoverysqlite "github.com/louisbranch/venue/internal/discovery/sqlite"
	entrypoint "github.com/louisbranch/venue/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/venue/internal/platform/grpc"
)

// Config holds discovery command configuration.
type Config struct {
	GRPCAddr string `env:"DISCOVERY_GRPC_ADDR" envDefault:":7070"`
	DBPath   string `env:"DISCOVERY_DB_PATH"   envDefault:"data/discovery.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "discovery gRPC listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "discovery table SQLite path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the discovery hub until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDiscovery, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		store, err := discoverysqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open discovery store: %w", err)
		}
		defer store.Close()

		hub, err := discovery.NewServer(ctx, store)
		if err != nil {
			return err
		}
		server, err := platformgrpc.NewServer(entrypoint.ServiceDiscovery, cfg.GRPCAddr)
		if err != nil {
			return err
		}
		hub.Register(server.GRPC())
		if err := server.Serve(ctx); err != nil {
			return fmt.Errorf("serve discovery: %w", err)
		}
		return nil
	})
}
