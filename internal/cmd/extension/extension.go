// Package extension parses extension host flags and runs the standalone
// halves of the configured extensions.
package extension

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	venueext "github.com/louisbranch/venue/internal/extension"
	"github.com/louisbranch/venue/internal/extensions"
	entrypoint "github.com/louisbranch/venue/internal/platform/cmd"
	"github.com/louisbranch/venue/internal/platform/discovery"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"github.com/louisbranch/venue/internal/services/node"
	"github.com/louisbranch/venue/internal/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

// Config holds extension host configuration.
type Config struct {
	GRPCAddr      string   `env:"EXTENSION_GRPC_ADDR"      envDefault:":7071"`
	AdvertiseAddr string   `env:"EXTENSION_ADVERTISE_ADDR"`
	DiscoveryAddr string   `env:"DISCOVERY_ADDR"`
	DBPath        string   `env:"EXTENSION_DB_PATH"        envDefault:"data/extensions.db"`
	Extensions    []string `env:"EXTENSIONS"               envSeparator:","`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	extensionList := strings.Join(cfg.Extensions, ",")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "router gRPC listen address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise-addr", cfg.AdvertiseAddr, "router address advertised to peers")
	fs.StringVar(&cfg.DiscoveryAddr, "discovery-addr", cfg.DiscoveryAddr, "discovery hub gRPC address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "extension data SQLite path")
	fs.StringVar(&extensionList, "extensions", extensionList, "comma-separated extensions to host (empty hosts all)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Extensions = splitList(extensionList)
	cfg.DiscoveryAddr = discovery.OrDefaultGRPCAddr(cfg.DiscoveryAddr, discovery.ServiceDiscovery)
	if strings.TrimSpace(cfg.AdvertiseAddr) == "" {
		cfg.AdvertiseAddr = discovery.DefaultGRPCAddr(discovery.ServiceExtension)
	}
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Run hosts extensions until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceExtension, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open extension store: %w", err)
		}
		defer store.Close()

		catalog, err := extensions.NewCatalog()
		if err != nil {
			return err
		}

		n, err := node.Join(ctx, node.Config{
			Name:          entrypoint.ServiceExtension,
			GRPCAddr:      cfg.GRPCAddr,
			AdvertiseAddr: cfg.AdvertiseAddr,
			DiscoveryAddr: cfg.DiscoveryAddr,
		})
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
			defer cancel()
			if err := n.Close(closeCtx); err != nil {
				log.Printf("extension host close: %v", err)
			}
		}()

		manager := venueext.NewManager(n.Directory(), catalog, venueext.Dependencies{
			Blobs:   store,
			Players: venueext.NewGatewayFacts(n.Directory(), entrypoint.ServiceExtension),
		})
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return n.Serve(groupCtx)
		})
		group.Go(func() error {
			helpers, err := manager.CreateExtensionServices(groupCtx, cfg.Extensions...)
			if err != nil {
				return fmt.Errorf("create extensions: %w", err)
			}
			if err := manager.StartAll(groupCtx); err != nil {
				return fmt.Errorf("start extensions: %w", err)
			}
			for _, helper := range helpers {
				log.Printf("extension %s serving as %s", helper.Name(), helper.ServiceName())
			}
			return nil
		})
		return group.Wait()
	})
}
