// Package main starts the discovery hub and handles termination.
//
// The hub owns the shared service table every venue process publishes to
// and watches.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	discoverycmd "github.com/louisbranch/venue/internal/cmd/discovery"
)

func main() {
	cfg, err := discoverycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[DISCOVERY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := discoverycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
