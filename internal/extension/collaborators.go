package extension

import (
	"context"
	"sort"
	"sync"
)

// BlobStore keeps one opaque, eventually persisted blob per key. LoadData
// returns nil data for a key that was never stored.
type BlobStore interface {
	StoreData(ctx context.Context, key string, data []byte) error
	LoadData(ctx context.Context, key string) ([]byte, error)
}

// Location is where a player stands.
type Location struct {
	Map string `json:"map"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

// PlayerFacts answers questions about connected players. Unknown players
// yield zero values.
type PlayerFacts interface {
	Location(ctx context.Context, playerID string) (Location, bool)
	SessionToken(ctx context.Context, playerID string) string
	Scopes(ctx context.Context, playerID string) []string
}

// Cell is one tile of the process-local map.
type Cell struct {
	X     int               `json:"x"`
	Y     int               `json:"y"`
	Kind  string            `json:"kind"`
	Props map[string]string `json:"props,omitempty"`
}

// CellLookup reads map tiles synchronously.
type CellLookup interface {
	Cell(x, y int) (Cell, bool)
}

// Dependencies are the collaborators handed to every Helper. Nil members
// are replaced with in-memory defaults.
type Dependencies struct {
	Blobs   BlobStore
	Players PlayerFacts
	Cells   CellLookup
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Blobs == nil {
		d.Blobs = NewMemoryBlobs()
	}
	if d.Players == nil {
		d.Players = NewPlayerRegistry()
	}
	if d.Cells == nil {
		d.Cells = NewGrid()
	}
	return d
}

// MemoryBlobs is a process-local BlobStore.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobs creates an empty store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

// StoreData implements BlobStore.
func (m *MemoryBlobs) StoreData(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// LoadData implements BlobStore.
func (m *MemoryBlobs) LoadData(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// PlayerSession is what a gateway knows about one connected player.
type PlayerSession struct {
	Token    string
	Scopes   []string
	Location Location
	located  bool
}

// PlayerRegistry is an in-memory PlayerFacts filled by the gateway that
// holds the players.
type PlayerRegistry struct {
	mu      sync.RWMutex
	players map[string]PlayerSession
}

// NewPlayerRegistry creates an empty registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{players: make(map[string]PlayerSession)}
}

// Connect records a player's session.
func (r *PlayerRegistry) Connect(playerID, token string, scopes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.players[playerID]
	session.Token = token
	session.Scopes = append([]string(nil), scopes...)
	sort.Strings(session.Scopes)
	r.players[playerID] = session
}

// Disconnect forgets a player.
func (r *PlayerRegistry) Disconnect(playerID string) {
	r.mu.Lock()
	delete(r.players, playerID)
	r.mu.Unlock()
}

// Move records a player's location. Unknown players are ignored.
func (r *PlayerRegistry) Move(playerID string, loc Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.players[playerID]
	if !ok {
		return false
	}
	session.Location = loc
	session.located = true
	r.players[playerID] = session
	return true
}

// Location implements PlayerFacts.
func (r *PlayerRegistry) Location(_ context.Context, playerID string) (Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.players[playerID]
	if !ok || !session.located {
		return Location{}, false
	}
	return session.Location, true
}

// SessionToken implements PlayerFacts.
func (r *PlayerRegistry) SessionToken(_ context.Context, playerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players[playerID].Token
}

// Scopes implements PlayerFacts.
func (r *PlayerRegistry) Scopes(_ context.Context, playerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.players[playerID].Scopes...)
}

// Grid is an in-memory CellLookup.
type Grid struct {
	mu    sync.RWMutex
	cells map[[2]int]Cell
}

// NewGrid creates a grid holding cells.
func NewGrid(cells ...Cell) *Grid {
	g := &Grid{cells: make(map[[2]int]Cell, len(cells))}
	for _, cell := range cells {
		g.cells[[2]int{cell.X, cell.Y}] = cell
	}
	return g
}

// Set stores cell at its coordinates.
func (g *Grid) Set(cell Cell) {
	g.mu.Lock()
	g.cells[[2]int{cell.X, cell.Y}] = cell
	g.mu.Unlock()
}

// Cell implements CellLookup.
func (g *Grid) Cell(x, y int) (Cell, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cell, ok := g.cells[[2]int{x, y}]
	return cell, ok
}
