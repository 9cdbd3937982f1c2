package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/louisbranch/venue/internal/platform/discovery"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/routing"
)

// Helper is an extension instance's view of the runtime: its identity,
// outbound calls, client pushes and collaborators.
type Helper struct {
	name      string
	service   string
	inGateway bool
	dir       *routing.Directory
	handler   *routing.Handler
	deps      Dependencies

	instance Instance
	client   map[string]ClientMethod

	startOnce sync.Once
	startErr  error
	started   atomic.Bool
}

// Name returns the extension name.
func (h *Helper) Name() string {
	return h.name
}

// ServiceName returns the service outbound calls are issued as: ext_<name>
// for the standalone half, the gateway's service for an in-gateway half.
func (h *Helper) ServiceName() string {
	return h.service
}

// InGateway reports whether the helper belongs to an in-gateway half.
func (h *Helper) InGateway() bool {
	return h.inGateway
}

// Handler returns the routing handler the helper's calls go through.
func (h *Helper) Handler() *routing.Handler {
	return h.handler
}

// Instance returns the extension instance the helper was created for.
func (h *Helper) Instance() Instance {
	return h.instance
}

// Started reports whether Init completed successfully.
func (h *Helper) Started() bool {
	return h.started.Load()
}

// CallS2S calls s2s_<method> on extension's standalone half.
func (h *Helper) CallS2S(ctx context.Context, extension, method string, args ...any) (any, error) {
	return h.dir.Call(ctx, h.service, discovery.ExtensionService(extension), PrefixServer+method, args...)
}

// CallS2C pushes s2c_<method> of this extension to one player through the
// gateway holding it. It reports whether a gateway accepted the push.
func (h *Helper) CallS2C(ctx context.Context, playerID, method string, args ...any) (bool, error) {
	if args == nil {
		args = []any{}
	}
	var lastErr error
	for _, gateway := range h.gatewaysFor(playerID) {
		result, err := h.dir.Call(ctx, h.service, gateway, GatewayDeliver, playerID, h.name, PrefixPush+method, args)
		if err != nil {
			lastErr = err
			continue
		}
		if delivered, _ := result.(bool); delivered {
			return true, nil
		}
	}
	if lastErr != nil {
		return false, lastErr
	}
	return false, nil
}

// gatewaysFor orders known gateways so a local gateway already holding the
// player is tried first.
func (h *Helper) gatewaysFor(playerID string) []string {
	gateways := h.dir.Services(discovery.GatewayPrefix)
	ordered := make([]string, 0, len(gateways))
	var rest []string
	for _, gateway := range gateways {
		if local, ok := h.dir.Local(gateway); ok && local.HasPlayer(playerID) {
			ordered = append(ordered, gateway)
			continue
		}
		rest = append(rest, gateway)
	}
	return append(ordered, rest...)
}

// Broadcast pushes s2c_<method> of this extension to every connected
// player. It returns how many gateways accepted the broadcast.
func (h *Helper) Broadcast(ctx context.Context, method string, args ...any) (int, error) {
	if args == nil {
		args = []any{}
	}
	reached := 0
	var errs []error
	for _, gateway := range h.dir.Services(discovery.GatewayPrefix) {
		if _, err := h.dir.Call(ctx, h.service, gateway, GatewayBroadcast, h.name, PrefixPush+method, args); err != nil {
			errs = append(errs, err)
			continue
		}
		reached++
	}
	if reached == 0 && len(errs) > 0 {
		return 0, errs[0]
	}
	return reached, nil
}

// StoreData persists v as this extension's blob.
func (h *Helper) StoreData(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeEncodingFailed, fmt.Sprintf("encode %s data", h.name), err)
	}
	return h.deps.Blobs.StoreData(ctx, h.name, data)
}

// LoadData decodes this extension's blob into out. It reports false, with
// out untouched, when nothing was stored yet.
func (h *Helper) LoadData(ctx context.Context, out any) (bool, error) {
	data, err := h.deps.Blobs.LoadData(ctx, h.name)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, apperrors.Wrap(apperrors.CodeEncodingFailed, fmt.Sprintf("decode %s data", h.name), err)
	}
	return true, nil
}

// PlayerLocation returns where playerID stands, if known.
func (h *Helper) PlayerLocation(ctx context.Context, playerID string) (Location, bool) {
	return h.deps.Players.Location(ctx, playerID)
}

// PlayerScopes returns the permission scopes of playerID's session.
func (h *Helper) PlayerScopes(ctx context.Context, playerID string) []string {
	return h.deps.Players.Scopes(ctx, playerID)
}

// PlayerSessionToken returns playerID's session token, or "".
func (h *Helper) PlayerSessionToken(ctx context.Context, playerID string) string {
	return h.deps.Players.SessionToken(ctx, playerID)
}

// Cell returns the map tile at x, y.
func (h *Helper) Cell(x, y int) (Cell, bool) {
	return h.deps.Cells.Cell(x, y)
}

// Logf logs with the extension's prefix.
func (h *Helper) Logf(format string, args ...any) {
	log.Printf("ext %s: "+format, append([]any{h.name}, args...)...)
}
