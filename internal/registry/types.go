// Package registry loads, validates, and hot-swaps the declarative bundle of
// tools, prompts, and server metadata (§3 RegistrySnapshot, §4.E). Grounded
// on the corpus's config.ValidateDetailed (collect-all-errors,
// duplicate-name detection) and cache.Manager's atomic-swap discipline.
package registry

import (
	"encoding/json"
	"strings"
)

// OperationRef is a tool's operation descriptor: the handler discriminator
// and the map from argument name to JSON pointer into the incoming call
// arguments (§3 ToolDefinition).
type OperationRef struct {
	Type string            `json:"type"`
	Map  map[string]string `json:"map"`
}

// Guards gates a tool's visibility on the process environment (§4.E).
type Guards struct {
	// RequiresEnv names an environment variable that must be non-empty.
	RequiresEnv string `json:"requiresEnv,omitempty"`
	// RequiresEnvTrue names an environment variable that must equal "true"
	// (case-insensitive).
	RequiresEnvTrue string `json:"requiresEnvTrue,omitempty"`
}

// Satisfied reports whether g's predicate holds against getenv.
func (g *Guards) Satisfied(getenv func(string) string) bool {
	if g == nil {
		return true
	}
	if g.RequiresEnv != "" && getenv(g.RequiresEnv) == "" {
		return false
	}
	if g.RequiresEnvTrue != "" && !isTrue(getenv(g.RequiresEnvTrue)) {
		return false
	}
	return true
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true")
}

// Tool is one entry of tools.json (§3 ToolDefinition, §6.3).
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Op          OperationRef    `json:"op"`
	Guards      *Guards         `json:"guards,omitempty"`
}

// toolsFile is the on-disk shape of tools.json: either a bare array or an
// object wrapping one, per §6.3.
type toolsFile struct {
	Tools []Tool `json:"tools"`
}

// Prompt is one entry of prompts.json (§3 PromptDefinition).
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type promptsFile struct {
	Prompts []Prompt `json:"prompts"`
}

// Server is the contents of server.json (§3 ServerMetadata).
type Server struct {
	ServerName             string `json:"serverName,omitempty"`
	Instructions           string `json:"instructions,omitempty"`
	ProtocolVersionDefault string `json:"protocolVersionDefault,omitempty"`
}

// defaultServer is used when server.json has no overrides for a field.
func defaultServer() Server {
	return Server{
		ServerName:             "odoo-mcp",
		Instructions:           "Use the odoo_* tools to interact with the configured Odoo instances.",
		ProtocolVersionDefault: "2024-11-05",
	}
}
