// Package discovery centralizes process identities, service-name
// conventions and default in-network addresses.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceDiscovery is the discovery hub process identity.
	ServiceDiscovery = "discovery"
	// ServiceExtension is the standalone extension host process identity.
	ServiceExtension = "extension"
	// ServiceGateway is the client gateway process identity.
	ServiceGateway = "gateway"
	// ServiceJaeger is the jaeger HTTP service identity.
	ServiceJaeger = "jaeger"
)

const (
	// ExtensionPrefix prefixes the service name of a standalone extension.
	ExtensionPrefix = "ext_"
	// GatewayPrefix prefixes the service name of a gateway process.
	GatewayPrefix = "gateway_"
)

var grpcPorts = map[string]int{
	ServiceDiscovery: 7070,
	ServiceExtension: 7071,
	ServiceGateway:   7072,
}

var httpPorts = map[string]int{
	ServiceGateway: 8080,
	ServiceJaeger:  16686,
}

// ExtensionService returns the routing service name of extension name's
// standalone instance.
func ExtensionService(name string) string {
	return ExtensionPrefix + strings.TrimSpace(name)
}

// ExtensionName strips the standalone prefix from a service name. The second
// return is false when service does not name a standalone extension.
func ExtensionName(service string) (string, bool) {
	name, ok := strings.CutPrefix(service, ExtensionPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// GatewayService returns the routing service name of gateway id.
func GatewayService(id string) string {
	return GatewayPrefix + strings.TrimSpace(id)
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a process.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// DefaultHTTPAddr returns the canonical in-network HTTP address for a process.
func DefaultHTTPAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), httpPorts)
}

// OrDefaultGRPCAddr returns value when set, otherwise the process convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
