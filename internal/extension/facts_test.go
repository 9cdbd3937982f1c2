package extension

import (
	"context"
	"reflect"
	"testing"

	"github.com/louisbranch/venue/internal/platform/discovery"
	"github.com/louisbranch/venue/internal/routing"
)

func TestGatewayFactsAsksGateways(t *testing.T) {
	ctx := context.Background()
	dir := routing.NewDirectory(nil)

	empty, err := dir.RegisterService(ctx, discovery.GatewayService("a"))
	if err != nil {
		t.Fatalf("register gateway a: %v", err)
	}
	if err := empty.RegisterRPC(GatewayPlayerFacts, func(context.Context, string, routing.Args) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register rpc: %v", err)
	}

	players := NewPlayerRegistry()
	players.Connect("p1", "tok", []string{"vip", "admin"})
	players.Move("p1", Location{Map: "plaza", X: 2, Y: 3})
	holder, err := dir.RegisterService(ctx, discovery.GatewayService("b"))
	if err != nil {
		t.Fatalf("register gateway b: %v", err)
	}
	var caller string
	if err := holder.RegisterRPC(GatewayPlayerFacts, func(_ context.Context, from string, args routing.Args) (any, error) {
		caller = from
		id, _ := args.String(0)
		snapshot, ok := players.Snapshot(id)
		if !ok {
			return nil, nil
		}
		return snapshot, nil
	}); err != nil {
		t.Fatalf("register rpc: %v", err)
	}

	facts := NewGatewayFacts(dir, "extension")
	if got := facts.Scopes(ctx, "p1"); !reflect.DeepEqual(got, []string{"admin", "vip"}) {
		t.Fatalf("scopes = %v", got)
	}
	if caller != "extension" {
		t.Fatalf("caller = %q", caller)
	}
	if got := facts.SessionToken(ctx, "p1"); got != "tok" {
		t.Fatalf("token = %q", got)
	}
	loc, ok := facts.Location(ctx, "p1")
	if !ok || loc != (Location{Map: "plaza", X: 2, Y: 3}) {
		t.Fatalf("location = %+v, %v", loc, ok)
	}

	if got := facts.Scopes(ctx, "ghost"); len(got) != 0 {
		t.Fatalf("expected no scopes for unknown player, got %v", got)
	}
	if _, ok := facts.Location(ctx, ""); ok {
		t.Fatal("expected no location for empty player")
	}
}

func TestPlayerRegistrySnapshot(t *testing.T) {
	players := NewPlayerRegistry()
	if _, ok := players.Snapshot("p1"); ok {
		t.Fatal("expected no snapshot before connect")
	}
	players.Connect("p1", "tok", nil)
	snapshot, ok := players.Snapshot("p1")
	if !ok || snapshot.Token != "tok" || snapshot.Located {
		t.Fatalf("snapshot = %+v, %v", snapshot, ok)
	}
}
