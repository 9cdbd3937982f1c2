package fsm

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/louisbranch/venue/internal/platform/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/louisbranch/venue/internal/fsm")

// DefaultMaxSteps bounds the transitions of one walk.
const DefaultMaxSteps = 64

// WalkOptions adjusts a single walk.
type WalkOptions struct {
	// Fallback is where StateError and failing functions send the player.
	// Empty means the initial state.
	Fallback string
}

// Executor advances players through one Definition. Each player has at
// most one walk in flight per executor.
type Executor struct {
	def      Definition
	provider Provider

	// MaxSteps overrides DefaultMaxSteps when positive.
	MaxSteps int

	mu      sync.Mutex
	current map[string]string
	walking map[string]struct{}
}

// NewExecutor validates def and creates an executor resolving state
// functions through provider.
func NewExecutor(def Definition, provider Provider) (*Executor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		provider = OwnerProvider(nil)
	}
	return &Executor{
		def:      def,
		provider: provider,
		current:  make(map[string]string),
		walking:  make(map[string]struct{}),
	}, nil
}

// Name returns the definition name.
func (e *Executor) Name() string {
	return e.def.Name
}

// Definition returns the executor's definition.
func (e *Executor) Definition() Definition {
	return e.def
}

// State returns the player's current state, or the initial state when the
// player never walked.
func (e *Executor) State(playerID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.current[playerID]; ok {
		return state
	}
	return e.def.InitialState
}

// SetState moves the player to state outside of a walk.
func (e *Executor) SetState(playerID, state string) error {
	if !e.def.HasState(state) {
		return fmt.Errorf("fsm %s: unknown state %q", e.def.Name, state)
	}
	e.mu.Lock()
	e.current[playerID] = state
	e.mu.Unlock()
	return nil
}

// Reset forgets the player's state.
func (e *Executor) Reset(playerID string) {
	e.mu.Lock()
	delete(e.current, playerID)
	e.mu.Unlock()
}

// Snapshot copies every stored player state.
func (e *Executor) Snapshot() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.current))
	for player, state := range e.current {
		out[player] = state
	}
	return out
}

// Restore replaces stored player states. Entries naming unknown states are
// skipped and logged.
func (e *Executor) Restore(states map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = make(map[string]string, len(states))
	for player, state := range states {
		if !e.def.HasState(state) {
			log.Printf("fsm %s: dropping restored state %q for %s", e.def.Name, state, player)
			continue
		}
		e.current[player] = state
	}
}

// Walking reports whether a walk is in flight for the player.
func (e *Executor) Walking(playerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.walking[playerID]
	return ok
}

// Walk runs the player's machine until a function requests exit. It returns
// false without doing anything when a walk for the player is already in
// flight.
func (e *Executor) Walk(ctx context.Context, playerID string) bool {
	return e.WalkWith(ctx, playerID, WalkOptions{})
}

// WalkWith is Walk with options. Once admitted, a walk is not cancelled by
// ctx.
func (e *Executor) WalkWith(ctx context.Context, playerID string, opts WalkOptions) bool {
	if !e.acquire(playerID) {
		return false
	}
	defer e.release(playerID)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "fsm.walk", trace.WithAttributes(
		attribute.String("venue.fsm", e.def.Name),
		attribute.String("venue.player", playerID),
	))
	defer span.End()

	fallback := opts.Fallback
	if !e.def.HasState(fallback) {
		if fallback != "" {
			log.Printf("fsm %s: unknown fallback %q, using %q", e.def.Name, fallback, e.def.InitialState)
		}
		fallback = e.def.InitialState
	}

	state := e.State(playerID)
	if !e.def.HasState(state) {
		log.Printf("fsm %s: player %s is in unknown state %q, restarting at %q", e.def.Name, playerID, state, e.def.InitialState)
		state = e.def.InitialState
		e.store(playerID, state)
	}

	limit := e.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	for step := 0; step < limit; step++ {
		entry := e.def.States[state]
		fn, ok := e.provider.Resolve(entry.Func)
		if !ok {
			log.Printf("fsm %s: state %q: function %q not found", e.def.Name, state, entry.Func)
			e.exit(playerID, fallback)
			return true
		}

		next, err := e.call(ctx, fn, playerID, entry.Params, Info{Executor: e.def.Name, State: state, Step: step})
		if err != nil {
			log.Printf("fsm %s: state %q: function %q failed for %s: %v", e.def.Name, state, entry.Func, playerID, err)
			e.exit(playerID, fallback)
			return true
		}

		switch {
		case next == StateExit:
			return true
		case next == StateError:
			e.exit(playerID, fallback)
			return true
		case !e.def.HasState(next):
			log.Printf("fsm %s: function %q returned unknown state %q, keeping %q", e.def.Name, entry.Func, next, state)
			return true
		}
		state = next
		e.store(playerID, state)
	}
	log.Printf("fsm %s: walk for %s stopped after %d steps at %q", e.def.Name, playerID, limit, state)
	return true
}

func (e *Executor) call(ctx context.Context, fn Func, playerID string, params map[string]any, info Info) (next string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return fn(ctx, playerID, copyParams(params), info)
}

func (e *Executor) exit(playerID, fallback string) {
	e.store(playerID, fallback)
}

func (e *Executor) store(playerID, state string) {
	e.mu.Lock()
	e.current[playerID] = state
	e.mu.Unlock()
}

func (e *Executor) acquire(playerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.walking[playerID]; ok {
		return false
	}
	e.walking[playerID] = struct{}{}
	return true
}

func (e *Executor) release(playerID string) {
	e.mu.Lock()
	delete(e.walking, playerID)
	e.mu.Unlock()
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
