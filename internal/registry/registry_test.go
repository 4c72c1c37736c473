package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRegistrySeedsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(ResolvePaths(dir), nil)
	require.NoError(t, r.Load())

	snap := r.Current()
	assert.NotEmpty(t, snap.Tools)
	assert.NotEmpty(t, snap.Prompts)
	assert.Equal(t, "odoo-mcp", snap.Server.ServerName)

	for _, p := range []string{r.ToolsPath(), r.PromptsPath(), r.ServerPath()} {
		_, err := os.Stat(p)
		assert.NoError(t, err, "expected %s to be seeded", p)
	}
}

func TestRegistryRejectsDuplicateToolNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tools.json"), `[
		{"name":"a","description":"x","op":{"type":"search","map":{"instance":"/instance"}}},
		{"name":"a","description":"y","op":{"type":"read","map":{"instance":"/instance"}}}
	]`)
	writeFile(t, filepath.Join(dir, "prompts.json"), `[]`)
	writeFile(t, filepath.Join(dir, "server.json"), `{}`)

	r := New(ResolvePaths(dir), nil)
	err := r.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestRegistryRejectsAnyOfSchema(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tools.json"), `[
		{"name":"bad","description":"x","inputSchema":{"anyOf":[{"type":"string"}]},"op":{"type":"search","map":{}}}
	]`)
	writeFile(t, filepath.Join(dir, "prompts.json"), `[]`)
	writeFile(t, filepath.Join(dir, "server.json"), `{}`)

	r := New(ResolvePaths(dir), nil)
	err := r.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, err.Error(), "anyOf")
}

func TestRegistryReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	r := New(ResolvePaths(dir), nil)
	require.NoError(t, r.Load())
	before := r.Current()

	writeFile(t, r.ToolsPath(), `{"tools":[{"name":"dup","op":{"type":"search","map":{}}},{"name":"dup","op":{"type":"read","map":{}}}]}`)
	err := r.Reload()
	require.Error(t, err)
	assert.Same(t, before, r.Current())
}

func TestVisibleToolsFiltersByGuard(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tools.json"), `[
		{"name":"open","description":"x","op":{"type":"search","map":{}}},
		{"name":"gated","description":"y","guards":{"requiresEnvTrue":"ODOO_ENABLE_WRITE_TOOLS"},"op":{"type":"create","map":{}}}
	]`)
	writeFile(t, filepath.Join(dir, "prompts.json"), `[]`)
	writeFile(t, filepath.Join(dir, "server.json"), `{}`)

	r := New(ResolvePaths(dir), nil)
	require.NoError(t, r.Load())

	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	visible := r.Current().VisibleTools(getenv)
	require.Len(t, visible, 1)
	assert.Equal(t, "open", visible[0].Name)

	env["ODOO_ENABLE_WRITE_TOOLS"] = "true"
	visible = r.Current().VisibleTools(getenv)
	assert.Len(t, visible, 2)
}

func TestSaveToolsRollsBackOnInvalidCandidate(t *testing.T) {
	dir := t.TempDir()
	r := New(ResolvePaths(dir), nil)
	require.NoError(t, r.Load())
	before, err := os.ReadFile(r.ToolsPath())
	require.NoError(t, err)

	err = r.SaveTools([]Tool{
		{Name: "x", Op: OperationRef{Type: "search"}},
		{Name: "x", Op: OperationRef{Type: "read"}},
	})
	require.Error(t, err)

	after, err := os.ReadFile(r.ToolsPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaveToolsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(ResolvePaths(dir), nil)
	require.NoError(t, r.Load())

	newTools := []Tool{
		{Name: "only", Description: "d", Op: OperationRef{Type: "search", Map: map[string]string{"instance": "/instance"}}},
	}
	require.NoError(t, r.SaveTools(newTools))

	reloaded := New(ResolvePaths(dir), nil)
	require.NoError(t, reloaded.Load())
	require.Len(t, reloaded.Current().Tools, 1)
	assert.Equal(t, "only", reloaded.Current().Tools[0].Name)
}
