package extension

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/routing"
)

type testExt struct {
	helper   *Helper
	initErr  error
	block    bool
	inits    atomic.Int32
	client   map[string]ClientMethod
	server   map[string]ServerMethod
	external map[string]ExternalMethod
}

func (e *testExt) Init(ctx context.Context) error {
	e.inits.Add(1)
	if e.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return e.initErr
}

func (e *testExt) ClientMethods() map[string]ClientMethod     { return e.client }
func (e *testExt) ServerMethods() map[string]ServerMethod     { return e.server }
func (e *testExt) ExternalMethods() map[string]ExternalMethod { return e.external }

func factoryFor(ext *testExt) Factory {
	return func(helper *Helper) (Instance, error) {
		ext.helper = helper
		return ext, nil
	}
}

func newTestManager(t *testing.T, defs map[string]Definition) *Manager {
	t.Helper()
	catalog := NewCatalog()
	for name, def := range defs {
		if err := catalog.Register(name, def); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return NewManager(routing.NewDirectory(nil), catalog, Dependencies{})
}

func greeter() *testExt {
	return &testExt{
		client: map[string]ClientMethod{
			"greet": func(_ context.Context, playerID string, args routing.Args) (any, error) {
				name, _ := args.String(0)
				return "hello " + name + " from " + playerID, nil
			},
			"explode": func(context.Context, string, routing.Args) (any, error) {
				panic("secret detail")
			},
		},
		server: map[string]ServerMethod{
			"whoami": func(_ context.Context, caller string, _ routing.Args) (any, error) {
				return caller, nil
			},
		},
		external: map[string]ExternalMethod{
			"ping": func(context.Context, routing.Args) (any, error) {
				return "pong", nil
			},
		},
	}
}

func TestCatalogRegister(t *testing.T) {
	catalog := NewCatalog()
	ext := &testExt{}
	if err := catalog.Register("", Definition{Standalone: factoryFor(ext)}); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := catalog.Register("a", Definition{}); err == nil {
		t.Fatal("expected missing factory error")
	}
	if err := catalog.Register("a", Definition{Standalone: factoryFor(ext)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := catalog.Register("a", Definition{Standalone: factoryFor(ext)}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if got := catalog.Names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestEnsureClassUnknown(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.EnsureClass("missing")
	if !apperrors.HasCode(err, apperrors.CodeExtensionUnknown) {
		t.Fatalf("expected unknown extension, got %v", err)
	}
}

func TestCreateExtensionServiceRegistersPrefixedMethods(t *testing.T) {
	ext := greeter()
	m := newTestManager(t, map[string]Definition{"greeter": {Standalone: factoryFor(ext)}})

	helper, err := m.CreateExtensionService(context.Background(), "greeter")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if helper.ServiceName() != "ext_greeter" || helper.Name() != "greeter" || helper.InGateway() {
		t.Fatalf("unexpected helper identity %s/%s", helper.Name(), helper.ServiceName())
	}
	handler, ok := m.Directory().Local("ext_greeter")
	if !ok {
		t.Fatal("expected ext_greeter to be registered")
	}
	if !handler.IsExtension() {
		t.Fatal("expected extension role")
	}
	want := []string{"c2s_explode", "c2s_greet", "e2s_ping", "s2s_whoami"}
	if got := handler.Methods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("methods = %v, want %v", got, want)
	}
}

func TestCreateExtensionServiceOncePerProcess(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	ext := &testExt{}
	m := newTestManager(t, map[string]Definition{"solo": {Standalone: func(helper *Helper) (Instance, error) {
		builds.Add(1)
		<-release
		return ext, nil
	}}})

	const callers = 8
	var wg sync.WaitGroup
	helpers := make([]*Helper, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			helpers[i], errs[i] = m.CreateExtensionService(context.Background(), "solo")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("factory ran %d times, want 1", got)
	}
	var created *Helper
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			if !apperrors.HasCode(errs[i], apperrors.CodeExtensionAlreadyCreated) {
				t.Fatalf("unexpected error %v", errs[i])
			}
			continue
		}
		if created != nil && helpers[i] != created {
			t.Fatal("callers received different helpers")
		}
		created = helpers[i]
	}
	if created == nil {
		t.Fatal("expected at least one caller to receive the helper")
	}

	_, err := m.CreateExtensionService(context.Background(), "solo")
	if !apperrors.HasCode(err, apperrors.CodeExtensionAlreadyCreated) {
		t.Fatalf("expected already created, got %v", err)
	}
}

func TestCreateExtensionServiceCapabilities(t *testing.T) {
	m := newTestManager(t, map[string]Definition{
		"ui_only": {InGateway: factoryFor(&testExt{})},
	})
	_, err := m.CreateExtensionService(context.Background(), "ui_only")
	if !apperrors.HasCode(err, apperrors.CodeExtensionNoStandalone) {
		t.Fatalf("expected no standalone, got %v", err)
	}
	_, err = m.CreateExtensionService(context.Background(), "missing")
	if !apperrors.HasCode(err, apperrors.CodeExtensionUnknown) {
		t.Fatalf("expected unknown, got %v", err)
	}
}

func TestCreateExtensionServiceFactoryFailureFreesName(t *testing.T) {
	m := newTestManager(t, map[string]Definition{
		"broken": {Standalone: func(*Helper) (Instance, error) { return nil, errors.New("no config") }},
	})
	_, err := m.CreateExtensionService(context.Background(), "broken")
	if !apperrors.HasCode(err, apperrors.CodeExtensionInitFailed) {
		t.Fatalf("expected init failed, got %v", err)
	}
	if _, ok := m.Directory().Local("ext_broken"); ok {
		t.Fatal("failed creation must not leave the service registered")
	}
}

func TestCreateExtensionInGatewayOncePerGateway(t *testing.T) {
	m := newTestManager(t, map[string]Definition{
		"hud":  {InGateway: factoryFor(&testExt{})},
		"solo": {Standalone: factoryFor(&testExt{})},
	})
	dir := m.Directory()
	gatewayA, _ := dir.RegisterService(context.Background(), "gateway_a")
	gatewayB, _ := dir.RegisterService(context.Background(), "gateway_b")

	helperA, err := m.CreateExtensionInGateway(context.Background(), "hud", gatewayA)
	if err != nil || helperA == nil {
		t.Fatalf("create in gateway a: %v", err)
	}
	if !helperA.InGateway() || helperA.ServiceName() != "gateway_a" {
		t.Fatalf("unexpected helper %s", helperA.ServiceName())
	}
	if _, err := m.CreateExtensionInGateway(context.Background(), "hud", gatewayB); err != nil {
		t.Fatalf("create in gateway b: %v", err)
	}
	_, err = m.CreateExtensionInGateway(context.Background(), "hud", gatewayA)
	if !apperrors.HasCode(err, apperrors.CodeExtensionAlreadyCreated) {
		t.Fatalf("expected already created, got %v", err)
	}

	helper, err := m.CreateExtensionInGateway(context.Background(), "solo", gatewayA)
	if err != nil || helper != nil {
		t.Fatalf("expected nothing to create for standalone-only extension, got %v %v", helper, err)
	}
}

func TestStartInitRunsOnce(t *testing.T) {
	ext := &testExt{}
	m := newTestManager(t, map[string]Definition{"solo": {Standalone: factoryFor(ext)}})

	if err := m.StartExtensionService(context.Background(), "solo"); !apperrors.HasCode(err, apperrors.CodeExtensionNotCreated) {
		t.Fatalf("expected not created, got %v", err)
	}
	helper, _ := m.CreateExtensionService(context.Background(), "solo")
	for i := 0; i < 2; i++ {
		if err := m.StartExtensionService(context.Background(), "solo"); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if ext.inits.Load() != 1 {
		t.Fatalf("init ran %d times, want 1", ext.inits.Load())
	}
	if !helper.Started() {
		t.Fatal("expected helper to be started")
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if ext.inits.Load() != 1 {
		t.Fatal("StartAll restarted an extension")
	}
}

func TestStartExtensionInGateway(t *testing.T) {
	hud := &testExt{}
	m := newTestManager(t, map[string]Definition{"hud": {InGateway: factoryFor(hud)}})
	gateway, _ := m.Directory().RegisterService(context.Background(), "gateway_a")

	if err := m.StartExtensionInGateway(context.Background(), "hud", "gateway_a"); !apperrors.HasCode(err, apperrors.CodeExtensionNotCreated) {
		t.Fatalf("expected not created, got %v", err)
	}
	if _, err := m.CreateExtensionInGateway(context.Background(), "hud", gateway); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.StartExtensionInGateway(context.Background(), "hud", "gateway_a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if hud.inits.Load() != 1 {
		t.Fatalf("init ran %d times, want 1", hud.inits.Load())
	}
}

func TestStartAllFailsFast(t *testing.T) {
	failing := &testExt{initErr: errors.New("bad data")}
	blocking := &testExt{block: true}
	m := newTestManager(t, map[string]Definition{
		"failing":  {Standalone: factoryFor(failing)},
		"blocking": {Standalone: factoryFor(blocking)},
	})
	if _, err := m.CreateExtensionServices(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.StartAll(context.Background())
	}()
	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartAll did not abort after a failure")
	}
	if !apperrors.HasCode(err, apperrors.CodeExtensionInitFailed) {
		t.Fatalf("expected init failed, got %v", err)
	}
	if _, ok := m.Directory().Local("ext_failing"); ok {
		t.Fatal("failed extension must be unregistered")
	}
	if _, ok := m.Standalone("failing"); ok {
		t.Fatal("failed extension must be discarded")
	}
}

func TestStartRecoversInitPanic(t *testing.T) {
	m := newTestManager(t, map[string]Definition{
		"panicky": {Standalone: func(*Helper) (Instance, error) { return panicInit{}, nil }},
	})
	_, _ = m.CreateExtensionService(context.Background(), "panicky")
	err := m.StartExtensionService(context.Background(), "panicky")
	if !apperrors.HasCode(err, apperrors.CodeExtensionInitFailed) {
		t.Fatalf("expected init failed, got %v", err)
	}
}

type panicInit struct{}

func (panicInit) Init(context.Context) error { panic("boom") }
