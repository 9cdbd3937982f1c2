// Package routing resolves logical service names to handlers and carries
// calls between them.
//
// A Directory is constructed once per process around a Backend. Services
// register on the Directory and receive a Handler, which owns the service's
// method table and is the only way to issue calls. Every call is resolved to
// an explicit Route: Local(handler) when the target lives in this process,
// Remote(addr) when another process advertised it through discovery.
//
// Two backends exist. LocalBackend keeps everything in memory and reports
// unknown services as configuration mistakes. RemoteBackend advertises local
// services in a discovery.Table, caches peer advertisements and forwards
// calls over gRPC.
package routing
