package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/louisbranch/venue/internal/extension"
	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	maxExternalBodyBytes = 64 * 1024

	mcpServerName    = "venue-gateway"
	mcpServerVersion = "1.0.0"
	callExtension    = "call_extension"
)

// serveExternal runs an e2s call. The body is the JSON array of arguments;
// every answer is HTTP 200 with a ClientResponse body.
func (g *Gateway) serveExternal(w http.ResponseWriter, r *http.Request) {
	if !g.externalAllowed(r) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	ext := r.PathValue("extension")
	method := r.PathValue("method")

	resp := func() extension.ClientResponse {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxExternalBodyBytes+1))
		if err != nil {
			return extension.Failure(apperrors.Wrap(apperrors.CodeInvalidRequest, "read body", err))
		}
		if len(body) > maxExternalBodyBytes {
			return extension.Failure(apperrors.New(apperrors.CodeInvalidRequest, "payload too large"))
		}
		args := []any{}
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" && trimmed != "null" {
			if err := json.Unmarshal(body, &args); err != nil {
				return extension.Failure(apperrors.New(apperrors.CodeInvalidRequest, "body must be a JSON array"))
			}
		}
		return g.manager.HandleExternalCall(r.Context(), ext, method, args)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("gateway: write e2s response: %v", err)
	}
}

func (g *Gateway) externalAllowed(r *http.Request) bool {
	if g.externalToken == "" {
		return true
	}
	value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), []byte(g.externalToken)) == 1
}

// CallExtensionInput is the MCP tool input for an e2s call.
type CallExtensionInput struct {
	Extension string `json:"extension" jsonschema:"extension name"`
	Method    string `json:"method" jsonschema:"method name without the e2s_ prefix"`
	Args      []any  `json:"args,omitempty" jsonschema:"positional arguments"`
}

// CallExtensionTool defines the MCP tool schema for e2s calls.
func CallExtensionTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        callExtension,
		Description: "Call an external (e2s) method on a running extension",
	}
}

// CallExtensionHandler runs an e2s call through manager.
func CallExtensionHandler(manager *extension.Manager) mcp.ToolHandlerFor[CallExtensionInput, extension.ClientResponse] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CallExtensionInput) (*mcp.CallToolResult, extension.ClientResponse, error) {
		resp := manager.HandleExternalCall(ctx, input.Extension, input.Method, input.Args)
		text, err := json.Marshal(resp)
		if err != nil {
			return nil, extension.ClientResponse{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
			IsError: !resp.OK,
		}, resp, nil
	}
}

// NewMCPServer creates the MCP server exposing extension calls.
func NewMCPServer(manager *extension.Manager) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: mcpServerVersion}, nil)
	mcp.AddTool(server, CallExtensionTool(), CallExtensionHandler(manager))
	return server
}

func (g *Gateway) mcpHandler() http.Handler {
	server := NewMCPServer(g.manager)
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.externalAllowed(r) {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		streamable.ServeHTTP(w, r)
	})
}
