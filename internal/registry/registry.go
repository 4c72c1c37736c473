package registry

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
)

//go:embed defaults/tools.json defaults/prompts.json defaults/server.json
var embeddedDefaults embed.FS

// Snapshot is the immutable bundle of tools, prompts, and server metadata
// (§3 RegistrySnapshot). Once constructed it is never mutated; a reload
// builds a new Snapshot and the Registry swaps its pointer to it.
type Snapshot struct {
	Tools    []Tool
	Prompts  []Prompt
	Server   Server
	LoadedAt time.Time
}

// VisibleTools returns the subset of s.Tools whose guards are satisfied
// against getenv, in declared order (§4.E guard evaluation).
func (s *Snapshot) VisibleTools(getenv func(string) string) []Tool {
	out := make([]Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		if t.Guards.Satisfied(getenv) {
			out = append(out, t)
		}
	}
	return out
}

// FindTool resolves name against s.Tools, returning (tool, visible). A tool
// hidden by guards is still found but reported not-visible, so callers can
// distinguish "unknown" from "guarded out" while both ultimately surface as
// ToolNotFound (§4.F step 1, §8 property 2).
func (s *Snapshot) FindTool(name string, getenv func(string) string) (Tool, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, t.Guards.Satisfied(getenv)
		}
	}
	return Tool{}, false
}

// FindPrompt resolves name against s.Prompts.
func (s *Snapshot) FindPrompt(name string) (Prompt, bool) {
	for _, p := range s.Prompts {
		if p.Name == name {
			return p, true
		}
	}
	return Prompt{}, false
}

// Paths locates the three on-disk JSON documents, each independently
// overridable by env var, else resolved under a shared config directory
// (§4.E, §6.4).
type Paths struct {
	ToolsPath   string
	PromptsPath string
	ServerPath  string
}

const (
	EnvToolsPath   = "ODOO_MCP_TOOLS_JSON"
	EnvPromptsPath = "ODOO_MCP_PROMPTS_JSON"
	EnvServerPath  = "ODOO_MCP_SERVER_JSON"
	EnvConfigDir   = "ODOO_MCP_CONFIG_DIR"
)

// ResolvePaths computes the effective file paths from env vars, falling
// back to configDir/{tools,prompts,server}.json.
func ResolvePaths(configDir string) Paths {
	resolve := func(envVar, filename string) string {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
		if configDir == "" {
			return filename
		}
		return filepath.Join(configDir, filename)
	}
	return Paths{
		ToolsPath:   resolve(EnvToolsPath, "tools.json"),
		PromptsPath: resolve(EnvPromptsPath, "prompts.json"),
		ServerPath:  resolve(EnvServerPath, "server.json"),
	}
}

// Registry owns the live Snapshot and the file paths it was loaded from.
// Replacement is an atomic pointer swap so readers never observe a
// partially updated bundle (§3 Ownership summary, §5 Shared state).
type Registry struct {
	paths   Paths
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// New constructs a Registry for paths. Call Load before first use.
func New(paths Paths, logger *zap.Logger) *Registry {
	return &Registry{paths: paths, logger: logger}
}

// Current returns the live snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Load reads, seeding missing files from embedded defaults first, validates,
// and publishes the initial snapshot.
func (r *Registry) Load() error {
	snap, err := r.loadSnapshot()
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// Reload re-reads and re-validates the three files and, on success,
// publishes a new snapshot. On failure the previous snapshot is retained
// and the error is returned for the caller to log (§4.H).
func (r *Registry) Reload() error {
	snap, err := r.loadSnapshot()
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

func (r *Registry) loadSnapshot() (*Snapshot, error) {
	if err := seedIfMissing(r.paths.ToolsPath, "defaults/tools.json"); err != nil {
		return nil, err
	}
	if err := seedIfMissing(r.paths.PromptsPath, "defaults/prompts.json"); err != nil {
		return nil, err
	}
	if err := seedIfMissing(r.paths.ServerPath, "defaults/server.json"); err != nil {
		return nil, err
	}

	tools, err := loadTools(r.paths.ToolsPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", r.paths.ToolsPath, err)
	}
	if err := ValidateTools(tools); err != nil {
		return nil, fmt.Errorf("validate %s: %w", r.paths.ToolsPath, err)
	}

	prompts, err := loadPrompts(r.paths.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", r.paths.PromptsPath, err)
	}
	if err := ValidatePrompts(prompts); err != nil {
		return nil, fmt.Errorf("validate %s: %w", r.paths.PromptsPath, err)
	}

	server, err := loadServer(r.paths.ServerPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", r.paths.ServerPath, err)
	}

	return &Snapshot{Tools: tools, Prompts: prompts, Server: server, LoadedAt: time.Now()}, nil
}

func seedIfMissing(path, embeddedName string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := embeddedDefaults.ReadFile(embeddedName)
	if err != nil {
		return fmt.Errorf("read embedded default %s: %w", embeddedName, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir %s: %w", dir, err)
		}
	}
	return config.AtomicWriteFile(path, data, 0o644)
}

func loadTools(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTools(data)
}

func parseTools(data []byte) ([]Tool, error) {
	var arr []Tool
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}
	var wrapped toolsFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse tools: %w", err)
	}
	return wrapped.Tools, nil
}

func loadPrompts(path string) ([]Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePrompts(data)
}

func parsePrompts(data []byte) ([]Prompt, error) {
	var arr []Prompt
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}
	var wrapped promptsFile
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return wrapped.Prompts, nil
}

func loadServer(path string) (Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, err
	}
	merged := defaultServer()
	if err := json.Unmarshal(data, &merged); err != nil {
		return Server{}, fmt.Errorf("parse server: %w", err)
	}
	return merged, nil
}

// SaveTools validates candidate, and only on success atomically rewrites
// tools.json and reloads the registry. On validation failure the on-disk
// file is left untouched (§6.2 rollback contract, §4.H).
func (r *Registry) SaveTools(tools []Tool) error {
	if err := ValidateTools(tools); err != nil {
		return err
	}
	data, err := json.MarshalIndent(toolsFile{Tools: tools}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	if err := config.AtomicWriteFile(r.paths.ToolsPath, data, 0o644); err != nil {
		return err
	}
	return r.Reload()
}

// SavePrompts validates candidate and, only on success, atomically
// rewrites prompts.json and reloads the registry.
func (r *Registry) SavePrompts(prompts []Prompt) error {
	if err := ValidatePrompts(prompts); err != nil {
		return err
	}
	data, err := json.MarshalIndent(promptsFile{Prompts: prompts}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prompts: %w", err)
	}
	if err := config.AtomicWriteFile(r.paths.PromptsPath, data, 0o644); err != nil {
		return err
	}
	return r.Reload()
}

// SaveServer atomically rewrites server.json and reloads the registry.
func (r *Registry) SaveServer(server Server) error {
	data, err := json.MarshalIndent(server, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal server: %w", err)
	}
	if err := config.AtomicWriteFile(r.paths.ServerPath, data, 0o644); err != nil {
		return err
	}
	return r.Reload()
}

// ToolsPath, PromptsPath, ServerPath expose the resolved file locations,
// e.g. for the hot-reload watcher to register with fsnotify.
func (r *Registry) ToolsPath() string   { return r.paths.ToolsPath }
func (r *Registry) PromptsPath() string { return r.paths.PromptsPath }
func (r *Registry) ServerPath() string  { return r.paths.ServerPath }
