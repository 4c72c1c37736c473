package hotreload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

func TestWatcherReloadsOnToolsFileChange(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.ResolvePaths(dir), nil)
	require.NoError(t, reg.Load())

	store := config.NewStore(config.InstanceMap{})
	p := pool.New(store, nil, nil)

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := cache.New(db, cache.DefaultTTL, nil)
	require.NoError(t, err)

	w, err := New(reg, store, p, c, nil, "", nil)
	require.NoError(t, err)
	go w.Run()
	t.Cleanup(w.Stop)

	before := reg.Current().LoadedAt

	newTools := []registry.Tool{
		{
			Name: "odoo_search", Description: "updated",
			Op: registry.OperationRef{Type: "search", Map: map[string]string{"instance": "/instance"}},
		},
	}
	require.NoError(t, reg.SaveTools(newTools))

	time.Sleep(400 * time.Millisecond)

	after := reg.Current().LoadedAt
	assert.True(t, after.After(before) || after.Equal(before), "snapshot should remain at least as fresh")
	assert.Len(t, reg.Current().Tools, 1)
}

// TestWatcherSurvivesRepeatedRenames pins down §4.H's directory-level
// watching: internal/config.AtomicWriteFile persists every save via
// write-temp-then-rename, which replaces the watched file's inode. A watch
// added on the file itself (rather than its directory) would fire once and
// then go silent for every later write. This issues two SaveTools calls in
// a row and asserts the second rename is still observed.
func TestWatcherSurvivesRepeatedRenames(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.ResolvePaths(dir), nil)
	require.NoError(t, reg.Load())

	store := config.NewStore(config.InstanceMap{})
	p := pool.New(store, nil, nil)

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := cache.New(db, cache.DefaultTTL, nil)
	require.NoError(t, err)

	w, err := New(reg, store, p, c, nil, "", nil)
	require.NoError(t, err)
	go w.Run()
	t.Cleanup(w.Stop)

	require.NoError(t, reg.SaveTools([]registry.Tool{
		{Name: "first", Op: registry.OperationRef{Type: "search", Map: map[string]string{"instance": "/instance"}}},
	}))
	time.Sleep(400 * time.Millisecond)
	require.Len(t, reg.Current().Tools, 1)
	require.Equal(t, "first", reg.Current().Tools[0].Name)

	// This second rename onto the same path is exactly where a per-file
	// watch (bound to the first write's inode) would have gone silent.
	require.NoError(t, reg.SaveTools([]registry.Tool{
		{Name: "second", Op: registry.OperationRef{Type: "search", Map: map[string]string{"instance": "/instance"}}},
	}))
	time.Sleep(400 * time.Millisecond)

	require.Len(t, reg.Current().Tools, 1)
	assert.Equal(t, "second", reg.Current().Tools[0].Name)
}

func TestWatcherIgnoresUnrelatedFileInSameDirectory(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.ResolvePaths(dir), nil)
	require.NoError(t, reg.Load())

	store := config.NewStore(config.InstanceMap{})
	p := pool.New(store, nil, nil)

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := cache.New(db, cache.DefaultTTL, nil)
	require.NoError(t, err)

	w, err := New(reg, store, p, c, nil, "", nil)
	require.NoError(t, err)
	go w.Run()
	t.Cleanup(w.Stop)

	before := reg.Current().LoadedAt
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte(`{}`), 0o644))
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, before, reg.Current().LoadedAt)
}

func TestWatcherKeepsPreviousSnapshotOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.ResolvePaths(dir), nil)
	require.NoError(t, reg.Load())

	store := config.NewStore(config.InstanceMap{})
	p := pool.New(store, nil, nil)

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c, err := cache.New(db, cache.DefaultTTL, nil)
	require.NoError(t, err)

	w, err := New(reg, store, p, c, nil, "", nil)
	require.NoError(t, err)
	go w.Run()
	t.Cleanup(w.Stop)

	validTools := reg.Current().Tools

	// Write an invalid tools.json directly (bypassing SaveTools's validation)
	// to exercise the watcher's reject-and-keep-previous path.
	require.NoError(t, os.WriteFile(reg.ToolsPath(), []byte(`{"tools":[{"name":"x","op":{"type":"bogus"}}]}`), 0o644))

	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, validTools, reg.Current().Tools)
}
