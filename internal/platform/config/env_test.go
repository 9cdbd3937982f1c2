package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port  int      `env:"TEST_PORT" envDefault:"123"`
	Names []string `env:"TEST_NAMES" envSeparator:","`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvAppliesPrefix(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TEST_PORT", "9")
	t.Setenv("VENUE_TEST_PORT", "456")
	t.Setenv("VENUE_TEST_NAMES", "chat,items")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 456 {
		t.Fatalf("expected prefixed port 456, got %d", cfg.Port)
	}
	if len(cfg.Names) != 2 || cfg.Names[1] != "items" {
		t.Fatalf("unexpected names: %v", cfg.Names)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("VENUE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
