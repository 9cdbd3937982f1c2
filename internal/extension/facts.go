package extension

import (
	"context"
	"log"

	"github.com/louisbranch/venue/internal/platform/discovery"
	"github.com/louisbranch/venue/internal/routing"
)

// PlayerSnapshot is the wire form of one player's facts as a gateway
// reports them.
type PlayerSnapshot struct {
	Token    string   `json:"token"`
	Scopes   []string `json:"scopes"`
	Location Location `json:"location"`
	Located  bool     `json:"located"`
}

// Snapshot returns the facts held for playerID.
func (r *PlayerRegistry) Snapshot(playerID string) (PlayerSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.players[playerID]
	if !ok {
		return PlayerSnapshot{}, false
	}
	return PlayerSnapshot{
		Token:    session.Token,
		Scopes:   append([]string(nil), session.Scopes...),
		Location: session.Location,
		Located:  session.located,
	}, true
}

// GatewayFacts answers PlayerFacts by asking the gateways known to a
// directory. It serves extension hosts, which hold no players themselves.
type GatewayFacts struct {
	dir    *routing.Directory
	caller string
}

// NewGatewayFacts creates a PlayerFacts over dir. caller names the service
// the lookups are issued as.
func NewGatewayFacts(dir *routing.Directory, caller string) *GatewayFacts {
	return &GatewayFacts{dir: dir, caller: caller}
}

func (f *GatewayFacts) lookup(ctx context.Context, playerID string) (PlayerSnapshot, bool) {
	if playerID == "" {
		return PlayerSnapshot{}, false
	}
	for _, gateway := range f.dir.Services(discovery.GatewayPrefix) {
		result, err := f.dir.Call(ctx, f.caller, gateway, GatewayPlayerFacts, playerID)
		if err != nil || result == nil {
			continue
		}
		var snapshot PlayerSnapshot
		if err := routing.Args([]any{result}).Decode(0, &snapshot); err != nil {
			log.Printf("extension: player facts from %s: %v", gateway, err)
			continue
		}
		return snapshot, true
	}
	return PlayerSnapshot{}, false
}

// Location implements PlayerFacts.
func (f *GatewayFacts) Location(ctx context.Context, playerID string) (Location, bool) {
	snapshot, ok := f.lookup(ctx, playerID)
	if !ok || !snapshot.Located {
		return Location{}, false
	}
	return snapshot.Location, true
}

// SessionToken implements PlayerFacts.
func (f *GatewayFacts) SessionToken(ctx context.Context, playerID string) string {
	snapshot, _ := f.lookup(ctx, playerID)
	return snapshot.Token
}

// Scopes implements PlayerFacts.
func (f *GatewayFacts) Scopes(ctx context.Context, playerID string) []string {
	snapshot, _ := f.lookup(ctx, playerID)
	return snapshot.Scopes
}
