package fsm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider resolves a function name to a Func.
type Provider interface {
	Resolve(name string) (Func, bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(name string) (Func, bool)

// Resolve implements Provider.
func (f ProviderFunc) Resolve(name string) (Func, bool) {
	return f(name)
}

func exitFunc(context.Context, string, map[string]any, Info) (string, error) {
	return StateExit, nil
}

// OwnerProvider resolves functions defined by the executor's owner. The
// built-in exit function is always available unless the owner overrides it.
type OwnerProvider map[string]Func

// Resolve implements Provider.
func (p OwnerProvider) Resolve(name string) (Func, bool) {
	if fn, ok := p[name]; ok && fn != nil {
		return fn, true
	}
	if name == ExitFunc {
		return exitFunc, true
	}
	return nil, false
}

// Stack tries providers in order and returns the first resolution.
type Stack []Provider

// Resolve implements Provider.
func (s Stack) Resolve(name string) (Func, bool) {
	for _, provider := range s {
		if provider == nil {
			continue
		}
		if fn, ok := provider.Resolve(name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Caller performs server-to-server calls on behalf of an extension.
type Caller interface {
	CallS2S(ctx context.Context, extension, method string, args ...any) (any, error)
}

type delegate struct {
	extension string
	method    string
}

// ExtensionProvider resolves functions that live in another extension,
// possibly in another process. Each resolved call is one server-to-server
// call of extension.method(playerID, params, info).
type ExtensionProvider struct {
	caller Caller

	mu    sync.RWMutex
	funcs map[string]delegate
}

// NewExtensionProvider creates a provider calling through caller.
func NewExtensionProvider(caller Caller) *ExtensionProvider {
	return &ExtensionProvider{
		caller: caller,
		funcs:  make(map[string]delegate),
	}
}

// RegisterStateFunc maps fn to extension.method. Registering the same name
// again replaces the mapping.
func (p *ExtensionProvider) RegisterStateFunc(fn, extension, method string) error {
	fn = strings.TrimSpace(fn)
	extension = strings.TrimSpace(extension)
	method = strings.TrimSpace(method)
	if fn == "" || extension == "" || method == "" {
		return fmt.Errorf("state func, extension and method are required")
	}
	p.mu.Lock()
	p.funcs[fn] = delegate{extension: extension, method: method}
	p.mu.Unlock()
	return nil
}

// RegisterStateFuncs maps several function names (keys) to methods (values)
// of one extension.
func (p *ExtensionProvider) RegisterStateFuncs(extension string, funcs map[string]string) error {
	for fn, method := range funcs {
		if err := p.RegisterStateFunc(fn, extension, method); err != nil {
			return fmt.Errorf("register %s: %w", fn, err)
		}
	}
	return nil
}

// Resolve implements Provider.
func (p *ExtensionProvider) Resolve(name string) (Func, bool) {
	p.mu.RLock()
	target, ok := p.funcs[name]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, playerID string, params map[string]any, info Info) (string, error) {
		if params == nil {
			params = map[string]any{}
		}
		result, err := p.caller.CallS2S(ctx, target.extension, target.method, playerID, params, info)
		if err != nil {
			return "", err
		}
		next, ok := result.(string)
		if !ok {
			return "", fmt.Errorf("%s.%s returned %T, want state name", target.extension, target.method, result)
		}
		return next, nil
	}, true
}
