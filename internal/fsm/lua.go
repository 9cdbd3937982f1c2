package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"
)

// LuaProvider resolves state functions defined as global functions in a Lua
// script. Each function is called as fn(playerID, params, info) and must
// return the next state name. Calls are serialized on the script's state.
type LuaProvider struct {
	mu    sync.Mutex
	state *lua.State
	funcs map[string]struct{}
}

// NewLuaProvider runs script and exposes the global functions it defines.
// name labels the chunk in error messages.
func NewLuaProvider(name, script string) (*LuaProvider, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	before := globalFunctions(state)
	if err := lua.LoadString(state, script); err != nil {
		return nil, fmt.Errorf("load lua %s: %w", name, err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run lua %s: %w", name, err)
	}

	funcs := make(map[string]struct{})
	for fn := range globalFunctions(state) {
		if _, builtin := before[fn]; !builtin {
			funcs[fn] = struct{}{}
		}
	}
	return &LuaProvider{state: state, funcs: funcs}, nil
}

// Functions lists the state functions the script defines.
func (p *LuaProvider) Functions() []string {
	names := make([]string, 0, len(p.funcs))
	for name := range p.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve implements Provider.
func (p *LuaProvider) Resolve(name string) (Func, bool) {
	if _, ok := p.funcs[name]; !ok {
		return nil, false
	}
	return func(_ context.Context, playerID string, params map[string]any, info Info) (string, error) {
		return p.call(name, playerID, params, info)
	}, true
}

func (p *LuaProvider) call(name, playerID string, params map[string]any, info Info) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	top := p.state.Top()
	defer p.state.SetTop(top)

	p.state.Global(name)
	p.state.PushString(playerID)
	pushValue(p.state, params)
	pushValue(p.state, map[string]any{
		"executor": info.Executor,
		"state":    info.State,
		"step":     info.Step,
	})
	if err := p.state.ProtectedCall(3, 1, 0); err != nil {
		return "", fmt.Errorf("lua %s: %w", name, err)
	}
	next, ok := p.state.ToString(-1)
	if !ok {
		return "", fmt.Errorf("lua %s: returned %s, want state name", name, lua.TypeNameOf(p.state, -1))
	}
	return next, nil
}

func globalFunctions(state *lua.State) map[string]struct{} {
	names := make(map[string]struct{})
	state.PushGlobalTable()
	state.PushNil()
	for state.Next(-2) {
		if state.TypeOf(-2) == lua.TypeString && state.TypeOf(-1) == lua.TypeFunction {
			key, _ := state.ToString(-2)
			names[key] = struct{}{}
		}
		state.Pop(1)
	}
	state.Pop(1)
	return names
}

func pushValue(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case string:
		state.PushString(v)
	case bool:
		state.PushBoolean(v)
	case int:
		state.PushInteger(v)
	case int64:
		state.PushNumber(float64(v))
	case float64:
		state.PushNumber(v)
	case json.Number:
		f, _ := v.Float64()
		state.PushNumber(f)
	case []any:
		state.CreateTable(len(v), 0)
		for i, item := range v {
			pushValue(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.CreateTable(0, len(v))
		for key, item := range v {
			pushValue(state, item)
			state.SetField(-2, key)
		}
	default:
		state.PushString(fmt.Sprint(v))
	}
}
