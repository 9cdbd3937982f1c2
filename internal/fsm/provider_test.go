package fsm

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

type recordedCall struct {
	extension string
	method    string
	args      []any
}

type fakeCaller struct {
	mu     sync.Mutex
	calls  []recordedCall
	result any
	err    error
}

func (c *fakeCaller) CallS2S(_ context.Context, extension, method string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{extension: extension, method: method, args: args})
	return c.result, c.err
}

func TestExtensionProviderDelegatesOneCall(t *testing.T) {
	caller := &fakeCaller{result: StateExit}
	provider := NewExtensionProvider(caller)
	if err := provider.RegisterStateFunc("check", "items", "sf_check"); err != nil {
		t.Fatalf("register: %v", err)
	}
	def := Definition{
		Name:         "chest",
		InitialState: "locked",
		States: map[string]State{
			"locked": {Func: "check", Params: map[string]any{"item": "key"}},
		},
	}
	exec := mustExecutor(t, def, provider)
	exec.Walk(context.Background(), "p1")

	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(caller.calls))
	}
	call := caller.calls[0]
	if call.extension != "items" || call.method != "sf_check" {
		t.Fatalf("unexpected call %s.%s", call.extension, call.method)
	}
	wantArgs := []any{"p1", map[string]any{"item": "key"}, Info{Executor: "chest", State: "locked"}}
	if !reflect.DeepEqual(call.args, wantArgs) {
		t.Fatalf("args = %#v, want %#v", call.args, wantArgs)
	}
}

func TestExtensionProviderFailuresBecomeErrors(t *testing.T) {
	cases := map[string]*fakeCaller{
		"call error": {err: errors.New("transport down")},
		"non string": {result: 42.0},
		"nil result": {},
	}
	for name, caller := range cases {
		t.Run(name, func(t *testing.T) {
			provider := NewExtensionProvider(caller)
			_ = provider.RegisterStateFunc("check", "items", "sf_check")
			fn, ok := provider.Resolve("check")
			if !ok {
				t.Fatal("expected resolution")
			}
			if _, err := fn(context.Background(), "p1", nil, Info{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestExtensionProviderRegisterStateFuncs(t *testing.T) {
	provider := NewExtensionProvider(&fakeCaller{})
	if err := provider.RegisterStateFuncs("items", map[string]string{"a": "sf_a", "b": "sf_b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if _, ok := provider.Resolve(name); !ok {
			t.Fatalf("expected %s to resolve", name)
		}
	}
	if _, ok := provider.Resolve("c"); ok {
		t.Fatal("unexpected resolution")
	}
	if err := provider.RegisterStateFunc("", "items", "sf"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStackPrefersFirstProvider(t *testing.T) {
	caller := &fakeCaller{result: "remote"}
	delegated := NewExtensionProvider(caller)
	_ = delegated.RegisterStateFunc("greet", "items", "sf_greet")
	_ = delegated.RegisterStateFunc("only_remote", "items", "sf_only")
	stack := Stack{OwnerProvider{"greet": always("local")}, delegated}

	fn, ok := stack.Resolve("greet")
	if !ok {
		t.Fatal("expected resolution")
	}
	next, _ := fn(context.Background(), "p1", nil, Info{})
	if next != "local" {
		t.Fatalf("next = %q, want in-class result", next)
	}
	if len(caller.calls) != 0 {
		t.Fatal("delegated function must not be called")
	}
	if _, ok := stack.Resolve("only_remote"); !ok {
		t.Fatal("expected fallthrough to second provider")
	}
	if _, ok := stack.Resolve("nothing"); ok {
		t.Fatal("unexpected resolution")
	}
}

func TestOwnerProviderBuiltinExit(t *testing.T) {
	fn, ok := OwnerProvider(nil).Resolve(ExitFunc)
	if !ok {
		t.Fatal("expected built-in exit")
	}
	next, err := fn(context.Background(), "p1", nil, Info{})
	if err != nil || next != StateExit {
		t.Fatalf("exit returned %q, %v", next, err)
	}

	custom, _ := OwnerProvider{ExitFunc: always("s1")}.Resolve(ExitFunc)
	if next, _ := custom(context.Background(), "p1", nil, Info{}); next != "s1" {
		t.Fatalf("owner exit override ignored: %q", next)
	}
}
