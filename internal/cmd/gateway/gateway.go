// Package gateway parses gateway flags and serves players.
package gateway

import (
	"context"
	"errors"
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
	"github.com/louisbranch/venue/internal/routing"
	"github.com/louisbranch/venue/internal/services/gateway"
	"github.com/louisbranch/venue/internal/services/node"
	"github.com/louisbranch/venue/internal/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr      string `env:"GATEWAY_HTTP_ADDR"      envDefault:":8080"`
	GRPCAddr      string `env:"GATEWAY_GRPC_ADDR"      envDefault:":7072"`
	AdvertiseAddr string `env:"GATEWAY_ADVERTISE_ADDR"`
	DiscoveryAddr string `env:"DISCOVERY_ADDR"`
	ID            string `env:"GATEWAY_ID"`
	TokenSecret   string `env:"GATEWAY_TOKEN_SECRET"`
	TokenIssuer   string `env:"GATEWAY_TOKEN_ISSUER"   envDefault:"venue"`
	// ExternalToken guards e2s and MCP calls; required unless Local.
	ExternalToken string `env:"GATEWAY_EXTERNAL_TOKEN"`
	// Local runs every extension in this process without a discovery hub.
	Local  bool   `env:"GATEWAY_LOCAL"`
	DBPath string `env:"GATEWAY_DB_PATH"        envDefault:"data/gateway.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "router gRPC listen address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise-addr", cfg.AdvertiseAddr, "router address advertised to peers")
	fs.StringVar(&cfg.DiscoveryAddr, "discovery-addr", cfg.DiscoveryAddr, "discovery hub gRPC address")
	fs.StringVar(&cfg.ID, "id", cfg.ID, "gateway id (empty generates one)")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "expected player token issuer")
	fs.BoolVar(&cfg.Local, "local", cfg.Local, "run all extensions in process without discovery")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "extension data SQLite path in local mode")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if !cfg.Local {
		cfg.DiscoveryAddr = discovery.OrDefaultGRPCAddr(cfg.DiscoveryAddr, discovery.ServiceDiscovery)
		if cfg.AdvertiseAddr == "" {
			cfg.AdvertiseAddr = discovery.DefaultGRPCAddr(discovery.ServiceGateway)
		}
	}
	return cfg, nil
}

// Run serves players until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(ctx context.Context) error {
		verifier, err := gateway.NewTokenVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer)
		if err != nil {
			return err
		}
		catalog, err := extensions.NewCatalog()
		if err != nil {
			return err
		}
		if cfg.Local {
			return runLocal(ctx, cfg, catalog, verifier)
		}
		if strings.TrimSpace(cfg.ExternalToken) == "" {
			return errors.New("external token is required unless running local")
		}
		return runJoined(ctx, cfg, catalog, verifier)
	})
}

func runJoined(ctx context.Context, cfg Config, catalog *venueext.Catalog, verifier *gateway.TokenVerifier) error {
	n, err := node.Join(ctx, node.Config{
		Name:          entrypoint.ServiceGateway,
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
			log.Printf("gateway close: %v", err)
		}
	}()

	players := venueext.NewPlayerRegistry()
	manager := venueext.NewManager(n.Directory(), catalog, venueext.Dependencies{Players: players})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return n.Serve(groupCtx)
	})
	group.Go(func() error {
		return serve(groupCtx, cfg, manager, players, verifier)
	})
	return group.Wait()
}

func runLocal(ctx context.Context, cfg Config, catalog *venueext.Catalog, verifier *gateway.TokenVerifier) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open extension store: %w", err)
	}
	defer store.Close()

	players := venueext.NewPlayerRegistry()
	manager := venueext.NewManager(routing.NewDirectory(nil), catalog, venueext.Dependencies{
		Blobs:   store,
		Players: players,
	})
	if _, err := manager.CreateExtensionServices(ctx); err != nil {
		return fmt.Errorf("create extensions: %w", err)
	}
	return serve(ctx, cfg, manager, players, verifier)
}

func serve(ctx context.Context, cfg Config, manager *venueext.Manager, players *venueext.PlayerRegistry, verifier *gateway.TokenVerifier) error {
	gw, err := gateway.New(ctx, gateway.Config{
		ID:            cfg.ID,
		Manager:       manager,
		Players:       players,
		Verifier:      verifier,
		ExternalToken: cfg.ExternalToken,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(context.WithoutCancel(ctx)); err != nil {
			log.Printf("gateway close: %v", err)
		}
	}()
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start extensions: %w", err)
	}
	if err := gw.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}
