package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/louisbranch/venue/internal/extension"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connectMCP(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("connect server: %v", err)
	}
	t.Cleanup(func() {
		_ = serverSession.Close()
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
	})
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, args map[string]any) extension.ClientResponse {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      callExtension,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected tool content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", result.Content[0])
	}
	var resp extension.ClientResponse
	if err := json.Unmarshal([]byte(text.Text), &resp); err != nil {
		t.Fatalf("decode tool output: %v", err)
	}
	if result.IsError == resp.OK {
		t.Fatalf("IsError = %v for %+v", result.IsError, resp)
	}
	return resp
}

func TestCallExtensionTool(t *testing.T) {
	f := newFixture(t, "")
	session := connectMCP(t, NewMCPServer(f.gateway.manager))

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != callExtension {
		t.Fatalf("unexpected tools: %+v", tools.Tools)
	}

	resp := callTool(t, session, map[string]any{"extension": "echo", "method": "announce", "args": []any{"hello"}})
	if !resp.OK || resp.Result != float64(1) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp = callTool(t, session, map[string]any{"extension": "echo", "method": "missing"})
	if resp.OK || resp.Error == nil || resp.Error.Code != "METHOD_NOT_FOUND" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
