// Package gateway connects players to extensions: a websocket transport for
// client calls and pushes, plus HTTP and MCP entry points for external
// systems.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/louisbranch/venue/internal/extension"
	"github.com/louisbranch/venue/internal/platform/discovery"
	"github.com/louisbranch/venue/internal/platform/requestctx"
	"github.com/louisbranch/venue/internal/routing"
	"golang.org/x/net/websocket"
)

// Config wires a Gateway.
type Config struct {
	// ID names the gateway service; empty generates one.
	ID       string
	Manager  *extension.Manager
	Players  *extension.PlayerRegistry
	Verifier *TokenVerifier
	// ExternalToken, when set, is required as a bearer token on e2s calls.
	ExternalToken string
}

// Gateway holds the connected players of one process.
type Gateway struct {
	id            string
	handler       *routing.Handler
	manager       *extension.Manager
	players       *extension.PlayerRegistry
	verifier      *TokenVerifier
	externalToken string

	mu    sync.Mutex
	peers map[string]*wsPeer
}

// New registers the gateway service, binds it to the manager and creates
// every in-gateway extension half.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.Manager == nil {
		return nil, errors.New("extension manager is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.Players == nil {
		cfg.Players = extension.NewPlayerRegistry()
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = uuid.NewString()
	}

	handler, err := cfg.Manager.Directory().RegisterService(ctx, discovery.GatewayService(id))
	if err != nil {
		return nil, fmt.Errorf("register gateway: %w", err)
	}
	handler.MarkGateway()

	g := &Gateway{
		id:            id,
		handler:       handler,
		manager:       cfg.Manager,
		players:       cfg.Players,
		verifier:      cfg.Verifier,
		externalToken: strings.TrimSpace(cfg.ExternalToken),
		peers:         make(map[string]*wsPeer),
	}
	if err := handler.RegisterRPC(extension.GatewayDeliver, g.deliver); err != nil {
		return nil, err
	}
	if err := handler.RegisterRPC(extension.GatewayBroadcast, g.broadcast); err != nil {
		return nil, err
	}
	if err := handler.RegisterRPC(extension.GatewayPlayerFacts, g.playerFacts); err != nil {
		return nil, err
	}
	if g.externalToken == "" {
		log.Printf("gateway: %s accepts e2s and MCP calls without a token", handler.Name())
	}
	cfg.Manager.BindGateway(handler)
	if _, err := cfg.Manager.CreateExtensionsInGateway(ctx, handler); err != nil {
		_ = g.Close(ctx)
		return nil, err
	}
	return g, nil
}

// ID returns the gateway id.
func (g *Gateway) ID() string {
	return g.id
}

// ServiceName returns the routing service name of the gateway.
func (g *Gateway) ServiceName() string {
	return g.handler.Name()
}

// Players returns the ids of connected players.
func (g *Gateway) Players() []string {
	return g.handler.Players()
}

// Close drops every connection and unregisters the gateway service.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	peers := make([]*wsPeer, 0, len(g.peers))
	for _, peer := range g.peers {
		peers = append(peers, peer)
	}
	g.mu.Unlock()
	for _, peer := range peers {
		peer.close()
	}
	return g.manager.Directory().UnregisterService(ctx, g.handler.Name())
}

// Handler returns the HTTP routes of the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /ws", g.serveWS)
	mux.HandleFunc("POST /e2s/{extension}/{method}", g.serveExternal)
	mux.Handle("/mcp", g.mcpHandler())
	return mux
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		log.Printf("gateway: websocket unauthorized: remote=%s err=%v", r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(requestctx.WithPlayerID(r.Context(), claims.Subject))
	websocket.Handler(func(conn *websocket.Conn) {
		g.handleConn(conn, playerSession{
			id:     requestctx.PlayerIDFromContext(conn.Request().Context()),
			token:  token,
			scopes: claims.Scopes,
		})
	}).ServeHTTP(w, r)
}

// attach makes peer the connection of playerID, closing any previous one.
func (g *Gateway) attach(player playerSession, peer *wsPeer) {
	g.mu.Lock()
	previous := g.peers[player.id]
	g.peers[player.id] = peer
	g.mu.Unlock()
	if previous != nil {
		previous.close()
	}
	g.players.Connect(player.id, player.token, player.scopes)
	g.handler.RegisterPlayer(player.id)
	log.Printf("gateway: player %s connected to %s", player.id, g.handler.Name())
}

// detach forgets playerID unless a newer connection replaced peer.
func (g *Gateway) detach(playerID string, peer *wsPeer) {
	g.mu.Lock()
	if g.peers[playerID] != peer {
		g.mu.Unlock()
		return
	}
	delete(g.peers, playerID)
	g.mu.Unlock()
	g.handler.UnregisterPlayer(playerID)
	g.players.Disconnect(playerID)
	log.Printf("gateway: player %s disconnected from %s", playerID, g.handler.Name())
}

func (g *Gateway) peer(playerID string) *wsPeer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers[playerID]
}

// deliver implements extension.GatewayDeliver.
func (g *Gateway) deliver(_ context.Context, _ string, args routing.Args) (any, error) {
	playerID, _ := args.String(0)
	ext, _ := args.String(1)
	method, _ := args.String(2)
	peer := g.peer(playerID)
	if peer == nil {
		return false, nil
	}
	if err := peer.writeFrame(pushFrame(ext, method, args.Value(3))); err != nil {
		log.Printf("gateway: push %s.%s to %s failed: %v", ext, method, playerID, err)
		return false, nil
	}
	return true, nil
}

// broadcast implements extension.GatewayBroadcast.
func (g *Gateway) broadcast(_ context.Context, _ string, args routing.Args) (any, error) {
	ext, _ := args.String(0)
	method, _ := args.String(1)
	frame := pushFrame(ext, method, args.Value(2))

	g.mu.Lock()
	peers := make([]*wsPeer, 0, len(g.peers))
	for _, peer := range g.peers {
		peers = append(peers, peer)
	}
	g.mu.Unlock()

	reached := 0
	for _, peer := range peers {
		if err := peer.writeFrame(frame); err != nil {
			continue
		}
		reached++
	}
	return reached, nil
}

// playerFacts implements extension.GatewayPlayerFacts.
func (g *Gateway) playerFacts(_ context.Context, _ string, args routing.Args) (any, error) {
	playerID, _ := args.String(0)
	snapshot, ok := g.players.Snapshot(playerID)
	if !ok {
		return nil, nil
	}
	return snapshot, nil
}

func pushFrame(ext, method string, args any) serverFrame {
	list, _ := args.([]any)
	if list == nil {
		list = []any{}
	}
	return serverFrame{Type: frameS2C, ExtensionName: ext, MethodName: method, Args: list}
}
