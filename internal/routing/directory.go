package routing

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/platform/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/louisbranch/venue/internal/routing")

// RouteKind tags how a resolved service is reached.
type RouteKind int

const (
	// RouteLocal means the target handler lives in this process.
	RouteLocal RouteKind = iota + 1
	// RouteRemote means the target is reached over the network at Addr.
	RouteRemote
)

// Route is the result of resolving a service name: exactly one of Handler
// (RouteLocal) or Addr (RouteRemote) is set.
type Route struct {
	Kind    RouteKind
	Service string
	Handler *Handler
	Addr    string
}

// Call is one method invocation in flight.
type Call struct {
	Caller string
	Target string
	Method string
	Args   Args
}

// Backend is the pluggable half of a Directory: it advertises local services
// and reaches services that are not registered in this process.
type Backend interface {
	// Publish advertises a service that was just registered locally.
	Publish(ctx context.Context, service string) error
	// Withdraw stops advertising a local service.
	Withdraw(ctx context.Context, service string) error
	// Lookup resolves a service not registered in this process.
	Lookup(service string) (Route, error)
	// Invoke performs call against a RouteRemote route.
	Invoke(ctx context.Context, route Route, call Call) (any, error)
	// Services lists the names known to the backend beyond local ones.
	Services() []string
}

// Directory maps service names to handlers. One Directory is created per
// process at startup and handed to every component that needs routing.
type Directory struct {
	backend Backend

	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewDirectory creates a directory over backend. A nil backend selects the
// in-process LocalBackend.
func NewDirectory(backend Backend) *Directory {
	if backend == nil {
		backend = LocalBackend{}
	}
	return &Directory{
		backend:  backend,
		handlers: make(map[string]*Handler),
	}
}

// RegisterService creates the handler for name. Registration fails when the
// name is already registered in this process or, on a cross-process backend,
// advertised by another process.
func (d *Directory) RegisterService(ctx context.Context, name string) (*Handler, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeServiceNameInvalid, "service name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if _, ok := d.handlers[name]; ok {
		d.mu.Unlock()
		return nil, alreadyRegistered(name)
	}
	handler := newHandler(name, d)
	d.handlers[name] = handler
	d.mu.Unlock()

	if err := d.backend.Publish(ctx, name); err != nil {
		d.mu.Lock()
		delete(d.handlers, name)
		d.mu.Unlock()
		return nil, err
	}
	return handler, nil
}

// UnregisterService drops a local service and withdraws its advertisement.
func (d *Directory) UnregisterService(ctx context.Context, name string) error {
	d.mu.Lock()
	_, ok := d.handlers[name]
	delete(d.handlers, name)
	d.mu.Unlock()
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeServiceNotFound,
			fmt.Sprintf("service %s not registered", name), map[string]string{"service": name})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return d.backend.Withdraw(ctx, name)
}

// Local returns the handler registered in this process under name.
func (d *Directory) Local(name string) (*Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[name]
	return handler, ok
}

// Resolve returns the route for name, preferring a handler in this process.
func (d *Directory) Resolve(name string) (Route, error) {
	if handler, ok := d.Local(name); ok {
		return Route{Kind: RouteLocal, Service: name, Handler: handler}, nil
	}
	return d.backend.Lookup(name)
}

// Services lists every known service name (local and discovered) that
// starts with prefix.
func (d *Directory) Services(prefix string) []string {
	seen := make(map[string]struct{})
	d.mu.RLock()
	for name := range d.handlers {
		seen[name] = struct{}{}
	}
	d.mu.RUnlock()
	for _, name := range d.backend.Services() {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Call issues method on target on behalf of caller, which need not be a
// registered service. Failures come back as *errors.Error values and are
// logged; Call never panics because of a routing, transport or callback
// fault.
func (d *Directory) Call(ctx context.Context, caller, target, method string, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "routing.call", trace.WithAttributes(
		attribute.String("venue.caller", caller),
		attribute.String("venue.target", target),
		attribute.String("venue.method", method),
	))
	defer span.End()

	result, err := d.dispatch(ctx, Call{Caller: caller, Target: target, Method: method, Args: args})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(apperrors.CodeOf(err)))
		log.Printf("routing: call %s -> %s.%s failed: %v", caller, target, method, err)
		return nil, err
	}
	return result, nil
}

func (d *Directory) dispatch(ctx context.Context, call Call) (any, error) {
	route, err := d.Resolve(call.Target)
	if err != nil {
		return nil, err
	}
	switch route.Kind {
	case RouteLocal:
		return route.Handler.invoke(ctx, call.Caller, call.Method, call.Args)
	case RouteRemote:
		return d.backend.Invoke(ctx, route, call)
	default:
		return nil, apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("unroutable service %s", call.Target))
	}
}

// dispatchLocal serves a call that arrived from another process. It never
// forwards again, so two processes with stale tables cannot bounce a call.
func (d *Directory) dispatchLocal(ctx context.Context, call Call) (any, error) {
	handler, ok := d.Local(call.Target)
	if !ok {
		return nil, serviceNotFound(call.Target)
	}
	return handler.invoke(ctx, call.Caller, call.Method, call.Args)
}

// LocalBackend is the in-process backend: nothing is advertised and every
// service must be registered in the same Directory.
type LocalBackend struct{}

// Publish implements Backend.
func (LocalBackend) Publish(context.Context, string) error { return nil }

// Withdraw implements Backend.
func (LocalBackend) Withdraw(context.Context, string) error { return nil }

// Lookup implements Backend. An unknown service is a configuration mistake.
func (LocalBackend) Lookup(service string) (Route, error) {
	return Route{}, serviceNotFound(service)
}

// Invoke implements Backend.
func (LocalBackend) Invoke(_ context.Context, route Route, _ Call) (any, error) {
	return nil, serviceNotFound(route.Service)
}

// Services implements Backend.
func (LocalBackend) Services() []string { return nil }

func serviceNotFound(service string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeServiceNotFound,
		fmt.Sprintf("service %s not found", service), map[string]string{"service": service})
}

func alreadyRegistered(service string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeServiceAlreadyRegistered,
		fmt.Sprintf("service %s already registered", service), map[string]string{"service": service})
}
