package routing

import (
	"context"
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
)

func registerPing(t *testing.T, dir *Directory, name string) *Handler {
	t.Helper()
	handler, err := dir.RegisterService(context.Background(), name)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if err := handler.RegisterRPC("ping", func(_ context.Context, _ string, _ Args) (any, error) {
		return map[string]any{"pong": true}, nil
	}); err != nil {
		t.Fatalf("register ping: %v", err)
	}
	return handler
}

func TestLocalCallReturnsResult(t *testing.T) {
	dir := NewDirectory(nil)
	registerPing(t, dir, "alpha")
	beta, err := dir.RegisterService(context.Background(), "beta")
	if err != nil {
		t.Fatalf("register beta: %v", err)
	}

	result, err := beta.CallRPC(context.Background(), "alpha", "ping")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"pong": true}) {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestLocalCallPassesCallerAndArgs(t *testing.T) {
	dir := NewDirectory(nil)
	alpha, _ := dir.RegisterService(context.Background(), "alpha")
	var gotCaller string
	var gotArgs Args
	_ = alpha.RegisterRPC("echo", func(_ context.Context, caller string, args Args) (any, error) {
		gotCaller, gotArgs = caller, args
		return args.Value(0), nil
	})
	beta, _ := dir.RegisterService(context.Background(), "beta")

	result, err := beta.CallRPC(context.Background(), "alpha", "echo", "hi", 2)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "hi" || gotCaller != "beta" || gotArgs.Len() != 2 {
		t.Fatalf("unexpected call: result=%v caller=%q args=%v", result, gotCaller, gotArgs)
	}
}

func TestRegisterServiceRejectsDuplicate(t *testing.T) {
	dir := NewDirectory(nil)
	if _, err := dir.RegisterService(context.Background(), "alpha"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := dir.RegisterService(context.Background(), "alpha")
	if !apperrors.HasCode(err, apperrors.CodeServiceAlreadyRegistered) {
		t.Fatalf("expected duplicate service error, got %v", err)
	}
	if _, err := dir.RegisterService(context.Background(), "  "); !apperrors.HasCode(err, apperrors.CodeServiceNameInvalid) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

func TestRegisterRPCRejectsDuplicate(t *testing.T) {
	dir := NewDirectory(nil)
	handler := registerPing(t, dir, "alpha")
	err := handler.RegisterRPC("ping", func(context.Context, string, Args) (any, error) { return nil, nil })
	if !apperrors.HasCode(err, apperrors.CodeMethodAlreadyRegistered) {
		t.Fatalf("expected duplicate method error, got %v", err)
	}
	if err := handler.RegisterRPC("nil", nil); !apperrors.HasCode(err, apperrors.CodeMethodNameInvalid) {
		t.Fatalf("expected nil callback error, got %v", err)
	}
}

func TestCallDistinguishesServiceAndMethodErrors(t *testing.T) {
	dir := NewDirectory(nil)
	registerPing(t, dir, "alpha")
	beta, _ := dir.RegisterService(context.Background(), "beta")

	_, err := beta.CallRPC(context.Background(), "missing", "ping")
	if !apperrors.HasCode(err, apperrors.CodeServiceNotFound) {
		t.Fatalf("expected service not found, got %v", err)
	}

	_, err = beta.CallRPC(context.Background(), "alpha", "pign")
	if !apperrors.HasCode(err, apperrors.CodeMethodNotFound) {
		t.Fatalf("expected method not found, got %v", err)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Metadata["hint"] != "ping" {
		t.Fatalf("expected ping hint, got %#v", domainErr)
	}
}

func TestCallbackFailuresBecomeCallbackFailed(t *testing.T) {
	dir := NewDirectory(nil)
	alpha, _ := dir.RegisterService(context.Background(), "alpha")
	_ = alpha.RegisterRPC("panic", func(context.Context, string, Args) (any, error) {
		panic("boom")
	})
	_ = alpha.RegisterRPC("fail", func(context.Context, string, Args) (any, error) {
		return nil, errors.New("secret detail")
	})
	_ = alpha.RegisterRPC("domain", func(context.Context, string, Args) (any, error) {
		return nil, apperrors.New(apperrors.CodePlayerUnknown, "no such player")
	})
	beta, _ := dir.RegisterService(context.Background(), "beta")

	for _, method := range []string{"panic", "fail"} {
		_, err := beta.CallRPC(context.Background(), "alpha", method)
		if !apperrors.HasCode(err, apperrors.CodeCallbackFailed) {
			t.Fatalf("%s: expected callback failed, got %v", method, err)
		}
	}
	_, err := beta.CallRPC(context.Background(), "alpha", "domain")
	if !apperrors.HasCode(err, apperrors.CodePlayerUnknown) {
		t.Fatalf("expected domain error to pass through, got %v", err)
	}
}

func TestNestedRoutingErrorsBecomeCallbackFailed(t *testing.T) {
	dir := NewDirectory(nil)
	alpha, _ := dir.RegisterService(context.Background(), "alpha")
	_ = alpha.RegisterRPC("ping", func(ctx context.Context, _ string, _ Args) (any, error) {
		return alpha.CallRPC(ctx, "ghost", "ping")
	})
	_ = alpha.RegisterRPC("pong", func(ctx context.Context, _ string, _ Args) (any, error) {
		return alpha.CallRPC(ctx, "alpha", "missing")
	})
	beta, _ := dir.RegisterService(context.Background(), "beta")

	for _, method := range []string{"ping", "pong"} {
		_, err := beta.CallRPC(context.Background(), "alpha", method)
		if !apperrors.HasCode(err, apperrors.CodeCallbackFailed) {
			t.Fatalf("%s: expected callback failed, got %v", method, err)
		}
		if apperrors.Retryable(err) {
			t.Fatalf("%s: nested failure must not look retryable", method)
		}
		var domainErr *apperrors.Error
		if !errors.As(err, &domainErr) || domainErr.Cause == nil {
			t.Fatalf("%s: expected nested error kept as cause, got %#v", method, err)
		}
	}
}

func TestResolveReturnsLocalRoute(t *testing.T) {
	dir := NewDirectory(nil)
	alpha := registerPing(t, dir, "alpha")
	route, err := dir.Resolve("alpha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if route.Kind != RouteLocal || route.Handler != alpha || route.Addr != "" {
		t.Fatalf("unexpected route %#v", route)
	}
}

func TestUnregisterServiceFreesName(t *testing.T) {
	dir := NewDirectory(nil)
	registerPing(t, dir, "alpha")
	if err := dir.UnregisterService(context.Background(), "alpha"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := dir.Local("alpha"); ok {
		t.Fatal("expected alpha to be gone")
	}
	registerPing(t, dir, "alpha")
	if err := dir.UnregisterService(context.Background(), "ghost"); !apperrors.HasCode(err, apperrors.CodeServiceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServicesFiltersByPrefix(t *testing.T) {
	dir := NewDirectory(nil)
	for _, name := range []string{"ext_items", "gateway_b", "ext_chat", "gateway_a"} {
		if _, err := dir.RegisterService(context.Background(), name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	got := dir.Services("gateway_")
	if !reflect.DeepEqual(got, []string{"gateway_a", "gateway_b"}) {
		t.Fatalf("unexpected services %v", got)
	}
}

func TestHandlerRolesAndPlayers(t *testing.T) {
	dir := NewDirectory(nil)
	gw, _ := dir.RegisterService(context.Background(), "gateway_a")
	if gw.Role() != RoleService || gw.IsGateway() {
		t.Fatalf("unexpected default role %s", gw.Role())
	}
	gw.MarkGateway()
	if !gw.IsGateway() || gw.IsExtension() || gw.Role().String() != "gateway" {
		t.Fatalf("expected gateway role, got %s", gw.Role())
	}

	if !gw.RegisterPlayer("p2") || !gw.RegisterPlayer("p1") {
		t.Fatal("expected first registrations to succeed")
	}
	if gw.RegisterPlayer("p1") {
		t.Fatal("expected duplicate player registration to report false")
	}
	if !reflect.DeepEqual(gw.Players(), []string{"p1", "p2"}) {
		t.Fatalf("unexpected players %v", gw.Players())
	}
	if !gw.UnregisterPlayer("p1") || gw.HasPlayer("p1") || gw.UnregisterPlayer("p1") {
		t.Fatal("unexpected unregister behavior")
	}
}

func TestArgsDecode(t *testing.T) {
	args := Args{map[string]any{"x": 1.0, "y": 2.0}, "name"}
	var point struct{ X, Y int }
	if err := args.Decode(0, &point); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if point.X != 1 || point.Y != 2 {
		t.Fatalf("unexpected point %+v", point)
	}
	if s, ok := args.String(1); !ok || s != "name" {
		t.Fatalf("unexpected string arg %q", s)
	}
	if err := args.Decode(5, &point); err == nil {
		t.Fatal("expected missing argument error")
	}
	if args.Value(-1) != nil {
		t.Fatal("expected nil for out of range value")
	}
}

func TestDirectoryCallWithUnregisteredCaller(t *testing.T) {
	dir := NewDirectory(nil)
	alpha, _ := dir.RegisterService(context.Background(), "alpha")
	_ = alpha.RegisterRPC("whoami", func(_ context.Context, caller string, _ Args) (any, error) {
		return caller, nil
	})

	result, err := dir.Call(context.Background(), "gateway_local", "alpha", "whoami")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "gateway_local" {
		t.Fatalf("caller = %v, want gateway_local", result)
	}
}
