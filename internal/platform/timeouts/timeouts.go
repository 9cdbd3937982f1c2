// Package timeouts defines shared timeout constants used across processes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a peer process.
const GRPCDial = 2 * time.Second

// RPCCall caps a single cross-process service call when the caller did not
// set its own deadline.
const RPCCall = 10 * time.Second

// DiscoveryRetry is the pause before re-subscribing to the discovery table
// after the watch stream breaks.
const DiscoveryRetry = time.Second

// ExtensionInit bounds one extension's initialization entry point.
const ExtensionInit = 30 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StaleProbe bounds the health probe the discovery hub sends to a service
// owner before evicting its record in favor of a new publisher.
const StaleProbe = time.Second

// WebsocketWrite bounds one frame write to a connected player.
const WebsocketWrite = 5 * time.Second
