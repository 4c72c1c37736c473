package server

import (
	"encoding/json"
	"net/http"
)

// handleOpenAPI serves a minimal hand-built OpenAPI document describing the
// MCP-HTTP surface. §6.1 names the endpoint but leaves its content
// unspecified; a generated-at-build-time spec (swaggo/swag, as the teacher
// uses) has nothing concrete to introspect here since the MCP method
// surface is JSON-RPC, not per-method REST routes, so a small static
// document is hand-maintained instead.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   s.serverName,
			"version": "1.0.0",
		},
		"paths": map[string]interface{}{
			"/mcp": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Send a JSON-RPC 2.0 MCP request",
				},
				"get": map[string]interface{}{
					"summary": "Open an SSE stream for an existing Mcp-Session-Id",
				},
				"delete": map[string]interface{}{
					"summary": "Terminate an Mcp-Session-Id session",
				},
			},
			"/sse": map[string]interface{}{
				"get": map[string]interface{}{"summary": "Open a legacy SSE event stream"},
			},
			"/messages": map[string]interface{}{
				"post": map[string]interface{}{"summary": "Send a JSON-RPC 2.0 message for a legacy SSE session"},
			},
			"/ws": map[string]interface{}{
				"get": map[string]interface{}{"summary": "Upgrade to a WebSocket MCP transport"},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{"summary": "Liveness probe"},
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
