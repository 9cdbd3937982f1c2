package extension

import (
	"flag"
	"reflect"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("extension", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.GRPCAddr != ":7071" {
		t.Fatalf("expected default grpc addr, got %q", cfg.GRPCAddr)
	}
	if cfg.DiscoveryAddr != "discovery:7070" {
		t.Fatalf("expected default discovery addr, got %q", cfg.DiscoveryAddr)
	}
	if cfg.AdvertiseAddr != "extension:7071" {
		t.Fatalf("expected default advertise addr, got %q", cfg.AdvertiseAddr)
	}
	if len(cfg.Extensions) != 0 {
		t.Fatalf("expected no extensions, got %v", cfg.Extensions)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("VENUE_EXTENSIONS", "greeter, gatekeeper")
	t.Setenv("VENUE_DISCOVERY_ADDR", "env-hub:1")

	fs := flag.NewFlagSet("extension", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-advertise-addr", "10.0.0.5:7071"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !reflect.DeepEqual(cfg.Extensions, []string{"greeter", "gatekeeper"}) {
		t.Fatalf("unexpected extensions: %v", cfg.Extensions)
	}
	if cfg.DiscoveryAddr != "env-hub:1" {
		t.Fatalf("expected env discovery addr, got %q", cfg.DiscoveryAddr)
	}
	if cfg.AdvertiseAddr != "10.0.0.5:7071" {
		t.Fatalf("expected flag advertise addr, got %q", cfg.AdvertiseAddr)
	}

	fs = flag.NewFlagSet("extension", flag.ContinueOnError)
	cfg, err = ParseConfig(fs, []string{"-extensions", "greeter"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !reflect.DeepEqual(cfg.Extensions, []string{"greeter"}) {
		t.Fatalf("expected flag extensions, got %v", cfg.Extensions)
	}
}
