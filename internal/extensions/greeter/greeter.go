// Package greeter is a small NPC extension. Its conversation is an fsm
// machine loaded from HCL whose states are backed by in-class functions, a
// Lua script and a state function delegated to the gatekeeper extension.
package greeter

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"github.com/louisbranch/venue/internal/extension"
	"github.com/louisbranch/venue/internal/fsm"
	"github.com/louisbranch/venue/internal/routing"
)

// Extension names.
const (
	Name           = "greeter"
	GatekeeperName = "gatekeeper"
)

//go:embed greeter.hcl
var machineHCL []byte

//go:embed greeter.lua
var machineLua string

// Register adds the greeter and gatekeeper extensions to catalog.
func Register(catalog *extension.Catalog) error {
	if err := catalog.Register(Name, extension.Definition{Standalone: New}); err != nil {
		return err
	}
	return catalog.Register(GatekeeperName, extension.Definition{Standalone: NewGatekeeper})
}

// data is the persisted blob of the greeter.
type data struct {
	Visits map[string]int    `json:"visits"`
	States map[string]string `json:"states"`
}

// Greeter talks to players through its conversation machine.
type Greeter struct {
	helper   *extension.Helper
	executor *fsm.Executor

	mu     sync.Mutex
	visits map[string]int
	said   map[string][]string
}

// New builds the standalone greeter.
func New(helper *extension.Helper) (extension.Instance, error) {
	defs, err := fsm.ParseDefinitions("greeter.hcl", machineHCL)
	if err != nil {
		return nil, err
	}
	def, ok := defs[Name]
	if !ok {
		return nil, fmt.Errorf("machine %s not defined", Name)
	}
	scripted, err := fsm.NewLuaProvider("greeter.lua", machineLua)
	if err != nil {
		return nil, err
	}
	delegated := fsm.NewExtensionProvider(helper)
	if err := delegated.RegisterStateFunc("has_pass", GatekeeperName, "sf_has_pass"); err != nil {
		return nil, err
	}

	g := &Greeter{
		helper: helper,
		visits: make(map[string]int),
		said:   make(map[string][]string),
	}
	own := fsm.OwnerProvider{
		"check_visits": g.checkVisits,
		"say":          g.say,
	}
	g.executor, err = fsm.NewExecutor(def, fsm.Stack{own, scripted, delegated})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Init restores visits and conversation states.
func (g *Greeter) Init(ctx context.Context) error {
	var saved data
	found, err := g.helper.LoadData(ctx, &saved)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	g.mu.Lock()
	for player, count := range saved.Visits {
		g.visits[player] = count
	}
	g.mu.Unlock()
	g.executor.Restore(saved.States)
	return nil
}

// ClientMethods implements extension.ClientAPI.
func (g *Greeter) ClientMethods() map[string]extension.ClientMethod {
	return map[string]extension.ClientMethod{
		"talk": func(ctx context.Context, playerID string, _ routing.Args) (any, error) {
			return g.Talk(ctx, playerID)
		},
		"visits": func(_ context.Context, playerID string, _ routing.Args) (any, error) {
			return g.Visits(playerID), nil
		},
	}
}

// ServerMethods implements extension.ServerAPI.
func (g *Greeter) ServerMethods() map[string]extension.ServerMethod {
	return map[string]extension.ServerMethod{
		"visits": func(_ context.Context, _ string, args routing.Args) (any, error) {
			playerID, ok := args.String(0)
			if !ok {
				return nil, fmt.Errorf("player id argument is required")
			}
			return g.Visits(playerID), nil
		},
	}
}

// ExternalMethods implements extension.ExternalAPI.
func (g *Greeter) ExternalMethods() map[string]extension.ExternalMethod {
	return map[string]extension.ExternalMethod{
		"reset": func(ctx context.Context, args routing.Args) (any, error) {
			playerID, ok := args.String(0)
			if !ok {
				return nil, fmt.Errorf("player id argument is required")
			}
			g.executor.Reset(playerID)
			return true, g.save(ctx)
		},
	}
}

// Talk walks the player's conversation and returns the lines said.
func (g *Greeter) Talk(ctx context.Context, playerID string) ([]string, error) {
	if !g.executor.Walk(ctx, playerID) {
		return nil, fmt.Errorf("conversation with %s already in progress", playerID)
	}

	g.mu.Lock()
	g.visits[playerID]++
	lines := g.said[playerID]
	delete(g.said, playerID)
	g.mu.Unlock()

	if err := g.save(ctx); err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// Visits returns how many conversations the player finished.
func (g *Greeter) Visits(playerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visits[playerID]
}

// State returns the player's conversation state.
func (g *Greeter) State(playerID string) string {
	return g.executor.State(playerID)
}

func (g *Greeter) save(ctx context.Context) error {
	g.mu.Lock()
	visits := make(map[string]int, len(g.visits))
	for player, count := range g.visits {
		visits[player] = count
	}
	g.mu.Unlock()
	return g.helper.StoreData(ctx, data{Visits: visits, States: g.executor.Snapshot()})
}

func (g *Greeter) checkVisits(_ context.Context, playerID string, params map[string]any, _ fsm.Info) (string, error) {
	key := "first"
	if g.Visits(playerID) > 0 {
		key = "returning"
	}
	next, _ := params[key].(string)
	return next, nil
}

// say pushes params.text to the player and moves to params.next.
func (g *Greeter) say(ctx context.Context, playerID string, params map[string]any, _ fsm.Info) (string, error) {
	text, _ := params["text"].(string)
	next, _ := params["next"].(string)

	g.mu.Lock()
	g.said[playerID] = append(g.said[playerID], text)
	g.mu.Unlock()

	if _, err := g.helper.CallS2C(ctx, playerID, "say", Name, text); err != nil {
		g.helper.Logf("push to %s failed: %v", playerID, err)
	}
	return next, nil
}

// Gatekeeper answers pass checks for other extensions' machines.
type Gatekeeper struct {
	helper *extension.Helper
}

// NewGatekeeper builds the standalone gatekeeper.
func NewGatekeeper(helper *extension.Helper) (extension.Instance, error) {
	return &Gatekeeper{helper: helper}, nil
}

// Init implements extension.Instance.
func (k *Gatekeeper) Init(context.Context) error {
	return nil
}

// ServerMethods implements extension.ServerAPI.
func (k *Gatekeeper) ServerMethods() map[string]extension.ServerMethod {
	return map[string]extension.ServerMethod{
		"sf_has_pass": k.hasPass,
	}
}

// hasPass is a delegated state function: args are playerID, params, info.
// It moves to params.pass when the player holds params.scope.
func (k *Gatekeeper) hasPass(ctx context.Context, _ string, args routing.Args) (any, error) {
	playerID, ok := args.String(0)
	if !ok {
		return nil, fmt.Errorf("player id argument is required")
	}
	var params struct {
		Scope string `json:"scope"`
		Pass  string `json:"pass"`
		Fail  string `json:"fail"`
	}
	if err := args.Decode(1, &params); err != nil {
		return nil, err
	}
	if slices.Contains(k.helper.PlayerScopes(ctx, playerID), params.Scope) {
		return params.Pass, nil
	}
	return params.Fail, nil
}
