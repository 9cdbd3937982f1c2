// Package extension hosts feature modules ("extensions") on top of the
// routing layer. Each extension may have a standalone half, one instance per
// deployment registered as service ext_<name>, and an in-gateway half
// created once per gateway process. A Manager creates and starts both halves
// from an explicit Catalog and exposes their methods under call-direction
// prefixes.
package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/routing"
)

// Method name prefixes by call direction.
const (
	// PrefixClient marks methods a client invokes through a gateway.
	PrefixClient = "c2s_"
	// PrefixServer marks methods other extensions invoke.
	PrefixServer = "s2s_"
	// PrefixPush marks methods a server pushes to one client.
	PrefixPush = "s2c_"
	// PrefixExternal marks methods external systems invoke.
	PrefixExternal = "e2s_"
)

// Methods every gateway registers so extensions can reach clients.
const (
	// GatewayDeliver pushes one s2c message to a player held by the gateway.
	// Args: playerID, extension, method, args list. Returns whether the
	// player was found.
	GatewayDeliver = PrefixServer + "deliver"
	// GatewayBroadcast pushes one s2c message to every player of the
	// gateway. Args: extension, method, args list. Returns the number of
	// players reached.
	GatewayBroadcast = PrefixServer + "broadcast"
	// GatewayPlayerFacts reports what the gateway knows about a player it
	// holds. Args: playerID. Returns a PlayerSnapshot or nil.
	GatewayPlayerFacts = PrefixServer + "player_facts"
)

// Instance is a created extension half.
type Instance interface {
	// Init is the initialization entry point, called once by Start.
	Init(ctx context.Context) error
}

// ClientMethod serves c2s_<name> for playerID.
type ClientMethod func(ctx context.Context, playerID string, args routing.Args) (any, error)

// ServerMethod serves s2s_<name>. caller is the calling extension's name,
// or the raw service name for callers that are not extensions.
type ServerMethod func(ctx context.Context, caller string, args routing.Args) (any, error)

// ExternalMethod serves e2s_<name>.
type ExternalMethod func(ctx context.Context, args routing.Args) (any, error)

// ClientAPI is implemented by instances exposing c2s methods. Names are
// given without prefix.
type ClientAPI interface {
	ClientMethods() map[string]ClientMethod
}

// ServerAPI is implemented by standalone instances exposing s2s methods.
type ServerAPI interface {
	ServerMethods() map[string]ServerMethod
}

// ExternalAPI is implemented by standalone instances exposing e2s methods.
type ExternalAPI interface {
	ExternalMethods() map[string]ExternalMethod
}

// Factory builds an extension half around its Helper.
type Factory func(helper *Helper) (Instance, error)

// Definition pairs the two halves of an extension. A nil Standalone means
// the extension has no standalone half; a nil InGateway means it has no
// in-gateway half.
type Definition struct {
	Standalone Factory
	InGateway  Factory
}

// HasStandalone reports whether the extension has a standalone half.
func (d Definition) HasStandalone() bool {
	return d.Standalone != nil
}

// Catalog is the startup-time registry of known extensions.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Register adds an extension. Names must be unique and non-empty and at
// least one half must be provided.
func (c *Catalog) Register(name string, def Definition) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("extension name is required")
	}
	if def.Standalone == nil && def.InGateway == nil {
		return fmt.Errorf("extension %s: no factory", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[name]; ok {
		return fmt.Errorf("extension %s already registered", name)
	}
	c.defs[name] = def
	return nil
}

// MustRegister is Register for static catalogs built at init time.
func (c *Catalog) MustRegister(name string, def Definition) {
	if err := c.Register(name, def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition of name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	return def, ok
}

// Names lists registered extensions in order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownExtension(name string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeExtensionUnknown,
		fmt.Sprintf("extension %s is not in the catalog", name), map[string]string{"extension": name})
}
