package mcpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/dispatcher"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// Handler implements the MCP method surface (§4.G). It holds no mutable
// session state of its own -- every method reads whichever RegistrySnapshot
// is current at the moment it runs (§5 Ordering guarantees), so a
// concurrently published reload never affects a call already dispatched.
type Handler struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	pool       *pool.Pool
	store      *config.Store
	getenv     func(string) string
	logger     *zap.Logger
}

// New constructs a Handler wired to the shared process singletons.
func New(reg *registry.Registry, disp *dispatcher.Dispatcher, p *pool.Pool, store *config.Store, getenv func(string) string, logger *zap.Logger) *Handler {
	return &Handler{registry: reg, dispatcher: disp, pool: p, store: store, getenv: getenv, logger: logger}
}

// HandleMessage decodes one JSON-RPC request, dispatches it, and returns the
// encoded response. It returns nil for a notification (no id), per JSON-RPC
// 2.0 semantics; transports must not write anything back in that case.
// Per-connection callers are expected to invoke this sequentially so
// response order matches request-acceptance order (§5 Ordering guarantees);
// Handler itself performs no connection-level serialization.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(newError(nil, codeParseError, "parse error: "+err.Error()))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return encode(newError(req.ID, codeInvalidRequest, "invalid JSON-RPC 2.0 envelope"))
	}

	resp := h.dispatch(ctx, &req)
	if req.IsNotification() {
		return nil
	}
	return encode(resp)
}

func encode(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error encoding response"}}`)
	}
	return data
}

func (h *Handler) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return newResult(req.ID, map[string]interface{}{})
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	case "prompts/list":
		return h.handlePromptsList(req)
	case "prompts/get":
		return h.handlePromptsGet(req)
	case "resources/list":
		return h.handleResourcesList(req)
	case "resources/read":
		return h.handleResourcesRead(ctx, req)
	default:
		return newError(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) handleInitialize(req *Request) *Response {
	snap := h.registry.Current()
	version := snap.Server.ProtocolVersionDefault
	if version == "" {
		version = protocolVersion
	}
	return newResult(req.ID, map[string]interface{}{
		"protocolVersion": version,
		"serverInfo": map[string]interface{}{
			"name":    snap.Server.ServerName,
			"version": version,
		},
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"prompts":   map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{"listChanged": false},
		},
		"instructions": snap.Server.Instructions,
	})
}

// wireTool is the MCP-facing projection of registry.Tool: operation
// internals (op.type, op.map, guards) never leave the process.
type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (h *Handler) handleToolsList(req *Request) *Response {
	snap := h.registry.Current()
	visible := snap.VisibleTools(h.getenv)
	out := make([]wireTool, 0, len(visible))
	for _, t := range visible {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, wireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return newResult(req.ID, map[string]interface{}{"tools": out})
}

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (h *Handler) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "invalid params: "+err.Error())
		}
	}
	if params.Name == "" {
		return newError(req.ID, codeInvalidParams, "missing required param \"name\"")
	}

	body, callErr := h.dispatcher.CallTool(ctx, params.Name, params.Arguments)
	if callErr != nil {
		return newError(req.ID, int(callErr.Code), callErr.Message)
	}
	return newResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": body},
		},
		"isError": false,
	})
}

func (h *Handler) handlePromptsList(req *Request) *Response {
	snap := h.registry.Current()
	type wirePrompt struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]wirePrompt, 0, len(snap.Prompts))
	for _, p := range snap.Prompts {
		out = append(out, wirePrompt{Name: p.Name, Description: p.Description})
	}
	return newResult(req.ID, map[string]interface{}{"prompts": out})
}

type getPromptParams struct {
	Name string `json:"name"`
}

func (h *Handler) handlePromptsGet(req *Request) *Response {
	var params getPromptParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "invalid params: "+err.Error())
		}
	}
	snap := h.registry.Current()
	prompt, ok := snap.FindPrompt(params.Name)
	if !ok {
		return newError(req.ID, codeMethodNotFound, fmt.Sprintf("prompt not found: %s", params.Name))
	}
	return newResult(req.ID, map[string]interface{}{
		"description": prompt.Description,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": map[string]interface{}{
					"type": "text",
					"text": prompt.Content,
				},
			},
		},
	})
}

// wireResource is one entry of resources/list -- an odoo://{instance}/...
// URI synthesized from the instance store, never from persisted record
// data (§4.G).
type wireResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

func (h *Handler) handleResourcesList(req *Request) *Response {
	names := h.store.List()
	out := make([]wireResource, 0, len(names))
	for _, name := range names {
		out = append(out, wireResource{
			URI:         fmt.Sprintf("odoo://%s/", name),
			Name:        fmt.Sprintf("Odoo instance %q", name),
			Description: "Models available on this instance",
			MimeType:    "application/json",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return newResult(req.ID, map[string]interface{}{"resources": out})
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (h *Handler) handleResourcesRead(ctx context.Context, req *Request) *Response {
	var params readResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "invalid params: "+err.Error())
		}
	}
	instance, modelsSuffix, ok := parseOdooURI(params.URI)
	if !ok {
		return newError(req.ID, codeInvalidParams, fmt.Sprintf("unrecognized resource uri: %s", params.URI))
	}

	descriptor := h.store.Get(instance)
	if descriptor == nil {
		return newError(req.ID, codeInvalidParams, fmt.Sprintf("unknown instance: %s", instance))
	}

	client, err := h.pool.Get(ctx, instance)
	if err != nil {
		return newError(req.ID, codeInternalError, err.Error())
	}

	var payload interface{}
	if modelsSuffix {
		records, count, listErr := client.ListModels(ctx, nil, &odoo.Options{Limit: 200})
		if listErr != nil {
			return newError(req.ID, int(dispatcher.FromOdooError(listErr).Code), listErr.Error())
		}
		payload = map[string]interface{}{"instance": instance, "records": records, "count": count}
	} else {
		payload = map[string]interface{}{"instance": instance, "baseUrl": descriptor.BaseURL, "database": descriptor.Database}
	}

	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return newError(req.ID, codeInternalError, marshalErr.Error())
	}

	return newResult(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{"uri": params.URI, "mimeType": "application/json", "text": string(data)},
		},
	})
}

// parseOdooURI splits an "odoo://{instance}/..." URI into the instance name
// and whether the path names the models listing.
func parseOdooURI(uri string) (instance string, models bool, ok bool) {
	const prefix = "odoo://"
	if !strings.HasPrefix(uri, prefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", false, false
	}
	instance = parts[0]
	if len(parts) == 2 && strings.TrimRight(parts[1], "/") == "models" {
		models = true
	}
	return instance, models, true
}
