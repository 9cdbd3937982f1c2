package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/venue/internal/extension"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/louisbranch/venue/internal/platform/timeouts"
	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes   = 64 * 1024
	maxFramesPerSecond     = 50
	maxDecodeErrorsPerConn = 3
)

// Frame types.
const (
	frameCall     = "call"
	frameMove     = "move"
	frameResponse = "response"
	frameS2C      = "s2c"
)

// clientFrame is the envelope of every frame a player sends. Call frames
// carry {extensionName, methodName, args} next to it; move frames carry a
// location.
type clientFrame struct {
	Type      string `json:"type,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Map       string `json:"map,omitempty"`
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
}

// responseFrame answers one client frame.
type responseFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	extension.ClientResponse
}

// serverFrame pushes an s2c call to a player.
type serverFrame struct {
	Type          string `json:"type"`
	ExtensionName string `json:"extensionName"`
	MethodName    string `json:"methodName"`
	Args          []any  `json:"args"`
}

type playerSession struct {
	id     string
	token  string
	scopes []string
}

type wsPeer struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn}
}

func (p *wsPeer) writeFrame(frame any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite))
	return websocket.JSON.Send(p.conn, frame)
}

func (p *wsPeer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.conn.Close()
}

func (g *Gateway) handleConn(conn *websocket.Conn, player playerSession) {
	conn.MaxPayloadBytes = maxFramePayloadBytes
	peer := newWSPeer(conn)
	g.attach(player, peer)

	var calls sync.WaitGroup
	defer func() {
		calls.Wait()
		g.detach(player.id, peer)
		peer.close()
	}()

	ctx := conn.Request().Context()
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var payload []byte
		if err := websocket.Message.Receive(conn, &payload); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				_ = peer.writeFrame(failureFrame("", "payload too large"))
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("gateway: read from %s: %v", player.id, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			decodeErrors++
			_ = peer.writeFrame(failureFrame("", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = peer.writeFrame(failureFrame(frame.RequestID, "rate limit exceeded"))
			return
		}

		switch strings.TrimSpace(frame.Type) {
		case frameMove:
			moved := g.players.Move(player.id, extension.Location{Map: frame.Map, X: frame.X, Y: frame.Y})
			_ = peer.writeFrame(responseFrame{
				Type:           frameResponse,
				RequestID:      frame.RequestID,
				ClientResponse: extension.Success(moved),
			})
		case "", frameCall:
			calls.Add(1)
			go func() {
				defer calls.Done()
				resp := g.manager.HandleClientCall(ctx, player.id, payload)
				_ = peer.writeFrame(responseFrame{Type: frameResponse, RequestID: frame.RequestID, ClientResponse: resp})
			}()
		default:
			_ = peer.writeFrame(failureFrame(frame.RequestID, "unsupported frame type"))
		}
	}
}

func failureFrame(requestID, message string) responseFrame {
	return responseFrame{
		Type:           frameResponse,
		RequestID:      requestID,
		ClientResponse: extension.Failure(apperrors.New(apperrors.CodeInvalidRequest, message)),
	}
}
