package routing

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
)

// Callback implements one callable method. caller is the service name of
// the handler that issued the call.
type Callback func(ctx context.Context, caller string, args Args) (any, error)

// Role marks what kind of process component owns a handler.
type Role int

const (
	// RoleService is the default role.
	RoleService Role = iota
	// RoleGateway marks a handler owned by a client gateway.
	RoleGateway
	// RoleExtension marks a handler owned by an extension instance.
	RoleExtension
)

// String returns the role label used in logs.
func (r Role) String() string {
	switch r {
	case RoleGateway:
		return "gateway"
	case RoleExtension:
		return "extension"
	default:
		return "service"
	}
}

// Handler is the façade of one registered service: its method table, its
// outbound call entry point and its player bookkeeping.
type Handler struct {
	name string
	dir  *Directory

	mu      sync.RWMutex
	methods map[string]Callback
	role    Role
	players map[string]struct{}
}

func newHandler(name string, dir *Directory) *Handler {
	return &Handler{
		name:    name,
		dir:     dir,
		methods: make(map[string]Callback),
		players: make(map[string]struct{}),
	}
}

// Name returns the service name the handler was registered under.
func (h *Handler) Name() string {
	return h.name
}

// Directory returns the directory the handler belongs to.
func (h *Handler) Directory() *Directory {
	return h.dir
}

// RegisterRPC adds method to the handler's method table.
func (h *Handler) RegisterRPC(method string, callback Callback) error {
	method = strings.TrimSpace(method)
	if method == "" {
		return apperrors.New(apperrors.CodeMethodNameInvalid, "method name is required")
	}
	if callback == nil {
		return apperrors.WithMetadata(apperrors.CodeMethodNameInvalid, "method callback is required",
			map[string]string{"service": h.name, "method": method})
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.methods[method]; ok {
		return apperrors.WithMetadata(apperrors.CodeMethodAlreadyRegistered,
			fmt.Sprintf("method %s already registered on %s", method, h.name),
			map[string]string{"service": h.name, "method": method})
	}
	h.methods[method] = callback
	return nil
}

// Methods lists registered method names in order.
func (h *Handler) Methods() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMethod reports whether method is registered.
func (h *Handler) HasMethod(method string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.methods[method]
	return ok
}

// CallRPC calls method on target with args, passing this handler's name as
// the caller. See Directory.Call.
func (h *Handler) CallRPC(ctx context.Context, target, method string, args ...any) (any, error) {
	return h.dir.Call(ctx, h.name, target, method, args...)
}

// invoke runs method locally. Panics, plain errors and routing errors of
// calls the callback made itself are converted to CALLBACK_FAILED; other
// domain errors pass through unchanged.
func (h *Handler) invoke(ctx context.Context, caller, method string, args Args) (result any, err error) {
	h.mu.RLock()
	callback, ok := h.methods[method]
	h.mu.RUnlock()
	if !ok {
		return nil, h.methodNotFound(method)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("routing: %s.%s panicked: %v\n%s", h.name, method, recovered, debug.Stack())
			result = nil
			err = apperrors.WithMetadata(apperrors.CodeCallbackFailed,
				fmt.Sprintf("%s.%s failed", h.name, method),
				map[string]string{"service": h.name, "method": method})
		}
	}()

	result, err = callback(ctx, caller, args)
	if err == nil {
		return result, nil
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown && !code.Routing() {
		return nil, err
	}
	return nil, &apperrors.Error{
		Code:     apperrors.CodeCallbackFailed,
		Message:  fmt.Sprintf("%s.%s failed", h.name, method),
		Metadata: map[string]string{"service": h.name, "method": method},
		Cause:    err,
	}
}

func (h *Handler) methodNotFound(method string) *apperrors.Error {
	metadata := map[string]string{"service": h.name, "method": method}
	if hint := h.closestMethod(method); hint != "" {
		metadata["hint"] = hint
	}
	return apperrors.WithMetadata(apperrors.CodeMethodNotFound,
		fmt.Sprintf("method %s not found on %s", method, h.name), metadata)
}

// closestMethod suggests a registered method within a small edit distance.
func (h *Handler) closestMethod(method string) string {
	best := ""
	bestDistance := max(2, len(method)/3) + 1
	for _, name := range h.Methods() {
		if d := levenshtein.ComputeDistance(method, name); d < bestDistance {
			best, bestDistance = name, d
		}
	}
	return best
}

// MarkGateway sets the gateway role.
func (h *Handler) MarkGateway() {
	h.setRole(RoleGateway)
}

// MarkExtension sets the extension role.
func (h *Handler) MarkExtension() {
	h.setRole(RoleExtension)
}

func (h *Handler) setRole(role Role) {
	h.mu.Lock()
	h.role = role
	h.mu.Unlock()
}

// Role returns the handler's role.
func (h *Handler) Role() Role {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.role
}

// IsGateway reports whether the handler belongs to a gateway.
func (h *Handler) IsGateway() bool {
	return h.Role() == RoleGateway
}

// IsExtension reports whether the handler belongs to an extension.
func (h *Handler) IsExtension() bool {
	return h.Role() == RoleExtension
}

// RegisterPlayer records that playerID is attached to this handler. It
// reports false when the player was already registered.
func (h *Handler) RegisterPlayer(playerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.players[playerID]; ok {
		return false
	}
	h.players[playerID] = struct{}{}
	return true
}

// UnregisterPlayer removes playerID and reports whether it was present.
func (h *Handler) UnregisterPlayer(playerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.players[playerID]; !ok {
		return false
	}
	delete(h.players, playerID)
	return true
}

// HasPlayer reports whether playerID is attached to this handler.
func (h *Handler) HasPlayer(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.players[playerID]
	return ok
}

// Players lists attached players in order.
func (h *Handler) Players() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.players))
	for id := range h.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
