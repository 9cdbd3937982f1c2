package extension

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/venue/internal/platform/discovery"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/platform/requestctx"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"github.com/louisbranch/venue/internal/routing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// managerCaller is the caller name of client and external calls issued
// before any gateway is bound.
const managerCaller = "extension_manager"

type class struct {
	def        Definition
	standalone *Helper
	gateways   map[string]*Helper
}

// Manager creates, starts and dispatches to the extensions of one process.
type Manager struct {
	dir     *routing.Directory
	catalog *Catalog
	deps    Dependencies

	creating singleflight.Group

	mu      sync.Mutex
	classes map[string]*class
	gateway string
}

// NewManager creates a manager over dir for the extensions in catalog.
func NewManager(dir *routing.Directory, catalog *Catalog, deps Dependencies) *Manager {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Manager{
		dir:     dir,
		catalog: catalog,
		deps:    deps.withDefaults(),
		classes: make(map[string]*class),
	}
}

// Directory returns the manager's directory.
func (m *Manager) Directory() *routing.Directory {
	return m.dir
}

// EnsureClass resolves and caches the definition of name.
func (m *Manager) EnsureClass(name string) (Definition, error) {
	name = strings.TrimSpace(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.classes[name]; ok {
		return c.def, nil
	}
	def, ok := m.catalog.Lookup(name)
	if !ok {
		return Definition{}, unknownExtension(name)
	}
	m.classes[name] = &class{def: def, gateways: make(map[string]*Helper)}
	return def, nil
}

// BindGateway makes client and external calls originate from gateway.
func (m *Manager) BindGateway(gateway *routing.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gateway != nil && m.gateway == "" {
		m.gateway = gateway.Name()
	}
}

func (m *Manager) callerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gateway != "" {
		return m.gateway
	}
	return managerCaller
}

// CreateExtensionService creates the standalone half of name and registers
// it as ext_<name>. Concurrent calls share one creation; any later call
// fails with EXTENSION_ALREADY_CREATED.
func (m *Manager) CreateExtensionService(ctx context.Context, name string) (*Helper, error) {
	def, err := m.EnsureClass(name)
	if err != nil {
		return nil, err
	}
	if !def.HasStandalone() {
		return nil, apperrors.WithMetadata(apperrors.CodeExtensionNoStandalone,
			fmt.Sprintf("extension %s has no standalone half", name), map[string]string{"extension": name})
	}
	v, err, _ := m.creating.Do("standalone/"+name, func() (any, error) {
		return m.createStandalone(ctx, name, def)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Helper), nil
}

// CreateExtensionServices creates the standalone half of every named
// extension, or of every catalog entry that has one when names is empty.
func (m *Manager) CreateExtensionServices(ctx context.Context, names ...string) ([]*Helper, error) {
	if len(names) == 0 {
		for _, name := range m.catalog.Names() {
			if def, _ := m.catalog.Lookup(name); def.HasStandalone() {
				names = append(names, name)
			}
		}
	}
	helpers := make([]*Helper, 0, len(names))
	for _, name := range names {
		helper, err := m.CreateExtensionService(ctx, name)
		if err != nil {
			return helpers, err
		}
		helpers = append(helpers, helper)
	}
	return helpers, nil
}

func (m *Manager) createStandalone(ctx context.Context, name string, def Definition) (*Helper, error) {
	m.mu.Lock()
	exists := m.classes[name].standalone != nil
	m.mu.Unlock()
	if exists {
		return nil, alreadyCreated(name, "standalone")
	}

	service := discovery.ExtensionService(name)
	handler, err := m.dir.RegisterService(ctx, service)
	if err != nil {
		return nil, err
	}
	handler.MarkExtension()
	helper := &Helper{
		name:    name,
		service: service,
		dir:     m.dir,
		handler: handler,
		deps:    m.deps,
	}

	instance, err := build(def.Standalone, helper)
	if err == nil {
		helper.instance = instance
		err = bindStandalone(handler, instance)
	}
	if err != nil {
		if unregErr := m.dir.UnregisterService(context.WithoutCancel(ctx), service); unregErr != nil {
			log.Printf("extension: unregister %s: %v", service, unregErr)
		}
		return nil, err
	}

	m.mu.Lock()
	m.classes[name].standalone = helper
	m.mu.Unlock()
	log.Printf("extension: created %s", service)
	return helper, nil
}

// CreateExtensionInGateway creates the in-gateway half of name for
// gateway. It returns a nil Helper and no error when the extension has no
// in-gateway half.
func (m *Manager) CreateExtensionInGateway(ctx context.Context, name string, gateway *routing.Handler) (*Helper, error) {
	def, err := m.EnsureClass(name)
	if err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, apperrors.New(apperrors.CodeServiceNameInvalid, "gateway handler is required")
	}
	m.BindGateway(gateway)
	if def.InGateway == nil {
		return nil, nil
	}
	v, err, _ := m.creating.Do("gateway/"+gateway.Name()+"/"+name, func() (any, error) {
		return m.createInGateway(name, def, gateway)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Helper), nil
}

// CreateExtensionsInGateway creates the in-gateway half of every catalog
// entry that has one.
func (m *Manager) CreateExtensionsInGateway(ctx context.Context, gateway *routing.Handler) ([]*Helper, error) {
	var helpers []*Helper
	for _, name := range m.catalog.Names() {
		helper, err := m.CreateExtensionInGateway(ctx, name, gateway)
		if err != nil {
			return helpers, err
		}
		if helper != nil {
			helpers = append(helpers, helper)
		}
	}
	return helpers, nil
}

func (m *Manager) createInGateway(name string, def Definition, gateway *routing.Handler) (*Helper, error) {
	m.mu.Lock()
	_, exists := m.classes[name].gateways[gateway.Name()]
	m.mu.Unlock()
	if exists {
		return nil, alreadyCreated(name, gateway.Name())
	}

	helper := &Helper{
		name:      name,
		service:   gateway.Name(),
		inGateway: true,
		dir:       m.dir,
		handler:   gateway,
		deps:      m.deps,
	}
	instance, err := build(def.InGateway, helper)
	if err != nil {
		return nil, err
	}
	helper.instance = instance
	if api, ok := instance.(ClientAPI); ok {
		helper.client = make(map[string]ClientMethod)
		for method, fn := range api.ClientMethods() {
			if fn != nil {
				helper.client[method] = fn
			}
		}
	}

	m.mu.Lock()
	m.classes[name].gateways[gateway.Name()] = helper
	m.mu.Unlock()
	log.Printf("extension: created %s in %s", name, gateway.Name())
	return helper, nil
}

func build(factory Factory, helper *Helper) (instance Instance, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("extension: %s factory panicked: %v\n%s", helper.name, recovered, debug.Stack())
			instance = nil
			err = apperrors.WithMetadata(apperrors.CodeExtensionInitFailed,
				fmt.Sprintf("create %s failed", helper.name), map[string]string{"extension": helper.name})
		}
	}()
	instance, err = factory(helper)
	if err != nil {
		return nil, &apperrors.Error{
			Code:     apperrors.CodeExtensionInitFailed,
			Message:  fmt.Sprintf("create %s failed", helper.name),
			Metadata: map[string]string{"extension": helper.name},
			Cause:    err,
		}
	}
	if instance == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeExtensionInitFailed,
			fmt.Sprintf("create %s returned no instance", helper.name), map[string]string{"extension": helper.name})
	}
	return instance, nil
}

// bindStandalone registers the instance's methods under their prefixes.
func bindStandalone(handler *routing.Handler, instance Instance) error {
	if api, ok := instance.(ClientAPI); ok {
		for _, method := range sortedKeys(api.ClientMethods()) {
			fn := api.ClientMethods()[method]
			err := handler.RegisterRPC(PrefixClient+method, func(ctx context.Context, _ string, args routing.Args) (any, error) {
				playerID, ok := args.String(0)
				if !ok || playerID == "" {
					return nil, invalidRequest("player id must be the first argument")
				}
				return fn(ctx, playerID, args[1:])
			})
			if err != nil {
				return err
			}
		}
	}
	if api, ok := instance.(ServerAPI); ok {
		for _, method := range sortedKeys(api.ServerMethods()) {
			fn := api.ServerMethods()[method]
			err := handler.RegisterRPC(PrefixServer+method, func(ctx context.Context, caller string, args routing.Args) (any, error) {
				if ext, ok := discovery.ExtensionName(caller); ok {
					caller = ext
				}
				return fn(ctx, caller, args)
			})
			if err != nil {
				return err
			}
		}
	}
	if api, ok := instance.(ExternalAPI); ok {
		for _, method := range sortedKeys(api.ExternalMethods()) {
			fn := api.ExternalMethods()[method]
			err := handler.RegisterRPC(PrefixExternal+method, func(ctx context.Context, _ string, args routing.Args) (any, error) {
				return fn(ctx, args)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StartExtensionService runs Init of name's standalone half. A failing Init
// unregisters the service and discards the instance.
func (m *Manager) StartExtensionService(ctx context.Context, name string) error {
	m.mu.Lock()
	var helper *Helper
	if c, ok := m.classes[name]; ok {
		helper = c.standalone
	}
	m.mu.Unlock()
	if helper == nil {
		return notCreated(name, "standalone")
	}
	return m.start(ctx, helper)
}

// StartExtensionInGateway runs Init of name's in-gateway half for gateway.
func (m *Manager) StartExtensionInGateway(ctx context.Context, name, gateway string) error {
	m.mu.Lock()
	var helper *Helper
	if c, ok := m.classes[name]; ok {
		helper = c.gateways[gateway]
	}
	m.mu.Unlock()
	if helper == nil {
		return notCreated(name, gateway)
	}
	return m.start(ctx, helper)
}

// StartAll runs Init of every created, not yet started half concurrently.
// The first failure cancels the startups still running and is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, helper := range m.helpers() {
		if helper.Started() {
			continue
		}
		g.Go(func() error {
			return m.start(gctx, helper)
		})
	}
	return g.Wait()
}

func (m *Manager) helpers() []*Helper {
	m.mu.Lock()
	defer m.mu.Unlock()
	var helpers []*Helper
	for _, name := range sortedKeys(m.classes) {
		c := m.classes[name]
		if c.standalone != nil {
			helpers = append(helpers, c.standalone)
		}
		for _, gateway := range sortedKeys(c.gateways) {
			helpers = append(helpers, c.gateways[gateway])
		}
	}
	return helpers
}

func (m *Manager) start(ctx context.Context, helper *Helper) error {
	helper.startOnce.Do(func() {
		helper.startErr = m.runInit(ctx, helper)
		if helper.startErr != nil {
			m.discard(helper)
			return
		}
		helper.started.Store(true)
		log.Printf("extension: started %s as %s", helper.name, helper.service)
	})
	return helper.startErr
}

func (m *Manager) runInit(ctx context.Context, helper *Helper) (err error) {
	metadata := map[string]string{"extension": helper.name}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &apperrors.Error{
			Code:     apperrors.CodeExtensionInitFailed,
			Message:  fmt.Sprintf("init %s aborted", helper.name),
			Metadata: metadata,
			Cause:    ctxErr,
		}
	}
	initCtx, cancel := context.WithTimeout(ctx, timeouts.ExtensionInit)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("extension: %s init panicked: %v\n%s", helper.name, recovered, debug.Stack())
			err = apperrors.WithMetadata(apperrors.CodeExtensionInitFailed,
				fmt.Sprintf("init %s failed", helper.name), metadata)
		}
	}()
	if initErr := helper.instance.Init(initCtx); initErr != nil {
		log.Printf("extension: init %s failed: %v", helper.name, initErr)
		return &apperrors.Error{
			Code:     apperrors.CodeExtensionInitFailed,
			Message:  fmt.Sprintf("init %s failed", helper.name),
			Metadata: metadata,
			Cause:    initErr,
		}
	}
	return nil
}

// discard drops a half whose startup failed so it is never routed to.
func (m *Manager) discard(helper *Helper) {
	m.mu.Lock()
	c, ok := m.classes[helper.name]
	if ok {
		if helper.inGateway {
			if c.gateways[helper.service] == helper {
				delete(c.gateways, helper.service)
			}
		} else if c.standalone == helper {
			c.standalone = nil
		}
	}
	m.mu.Unlock()
	if !helper.inGateway {
		if err := m.dir.UnregisterService(context.Background(), helper.service); err != nil {
			log.Printf("extension: unregister %s: %v", helper.service, err)
		}
	}
}

// Standalone returns the local standalone helper of name.
func (m *Manager) Standalone(name string) (*Helper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[name]
	if !ok || c.standalone == nil {
		return nil, false
	}
	return c.standalone, true
}

// HandleClientCall validates payload and dispatches it for playerID. It
// always answers with a ClientResponse.
func (m *Manager) HandleClientCall(ctx context.Context, playerID string, payload []byte) ClientResponse {
	req, err := ParseClientRequest(payload)
	if err != nil {
		return Failure(err)
	}
	return m.DispatchClient(ctx, playerID, req)
}

// DispatchClient runs a parsed client request. An in-gateway c2s method of
// the extension takes priority over the standalone one. The method's
// context carries playerID for requestctx.
func (m *Manager) DispatchClient(ctx context.Context, playerID string, req ClientRequest) ClientResponse {
	if strings.TrimSpace(playerID) == "" {
		return Failure(apperrors.New(apperrors.CodePlayerUnknown, "player is required"))
	}
	def, err := m.EnsureClass(req.Extension)
	if err != nil {
		return Failure(err)
	}
	ctx = requestctx.WithPlayerID(ctx, playerID)
	if helper, fn, ok := m.inGatewayMethod(req.Extension, req.Method); ok {
		return respond(invokeClient(ctx, helper, req.Method, fn, playerID, req.Args))
	}
	if !def.HasStandalone() {
		return Failure(apperrors.WithMetadata(apperrors.CodeMethodNotFound,
			fmt.Sprintf("method %s not found on %s", req.Method, req.Extension),
			map[string]string{"extension": req.Extension, "method": req.Method}))
	}
	args := append([]any{playerID}, req.Args...)
	return respond(m.dir.Call(ctx, m.callerName(), discovery.ExtensionService(req.Extension), PrefixClient+req.Method, args...))
}

func (m *Manager) inGatewayMethod(ext, method string) (*Helper, ClientMethod, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[ext]
	if !ok {
		return nil, nil, false
	}
	helper := c.gateways[m.gateway]
	if helper == nil {
		return nil, nil, false
	}
	fn, ok := helper.client[method]
	return helper, fn, ok
}

func invokeClient(ctx context.Context, helper *Helper, method string, fn ClientMethod, playerID string, args []any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("extension: %s.%s%s panicked: %v\n%s", helper.name, PrefixClient, method, recovered, debug.Stack())
			result = nil
			err = apperrors.New(apperrors.CodeCallbackFailed, fmt.Sprintf("%s.%s%s failed", helper.name, PrefixClient, method))
		}
	}()
	result, err = fn(ctx, playerID, routing.Args(args))
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeUnknown {
		log.Printf("extension: %s.%s%s failed: %v", helper.name, PrefixClient, method, err)
		return nil, apperrors.Wrap(apperrors.CodeCallbackFailed, fmt.Sprintf("%s.%s%s failed", helper.name, PrefixClient, method), err)
	}
	return result, err
}

// HandleExternalCall dispatches e2s_<method> of ext. It always answers with
// a ClientResponse.
func (m *Manager) HandleExternalCall(ctx context.Context, ext, method string, args []any) ClientResponse {
	ext, method = strings.TrimSpace(ext), strings.TrimSpace(method)
	if ext == "" || method == "" {
		return Failure(invalidRequest("extension and method are required"))
	}
	def, err := m.EnsureClass(ext)
	if err != nil {
		return Failure(err)
	}
	if !def.HasStandalone() {
		return Failure(apperrors.WithMetadata(apperrors.CodeExtensionNoStandalone,
			fmt.Sprintf("extension %s has no standalone half", ext), map[string]string{"extension": ext}))
	}
	return respond(m.dir.Call(ctx, m.callerName(), discovery.ExtensionService(ext), PrefixExternal+method, args...))
}

func alreadyCreated(name, where string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeExtensionAlreadyCreated,
		fmt.Sprintf("extension %s already created in %s", name, where),
		map[string]string{"extension": name})
}

func notCreated(name, where string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeExtensionNotCreated,
		fmt.Sprintf("extension %s not created in %s", name, where),
		map[string]string{"extension": name})
}
