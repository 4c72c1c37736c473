package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
)

type fakeClient struct{ odoo.Client }

func TestGetBuildsOnceThenReusesHandle(t *testing.T) {
	store := config.NewStore(config.InstanceMap{
		"prod": {Name: "prod", BaseURL: "https://prod.example.com", APIKey: "k"},
	})
	builds := 0
	p := New(store, func(d *config.InstanceDescriptor, _ *zap.Logger) (odoo.Client, error) {
		builds++
		return &fakeClient{}, nil
	}, nil)

	c1, err := p.Get(context.Background(), "prod")
	require.NoError(t, err)
	c2, err := p.Get(context.Background(), "prod")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, builds)
}

func TestGetUnknownInstanceErrors(t *testing.T) {
	store := config.NewStore(config.InstanceMap{})
	p := New(store, nil, nil)
	_, err := p.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGetRebuildsWhenDescriptorChanges(t *testing.T) {
	store := config.NewStore(config.InstanceMap{
		"prod": {Name: "prod", BaseURL: "https://prod.example.com", APIKey: "k"},
	})
	builds := 0
	p := New(store, func(d *config.InstanceDescriptor, _ *zap.Logger) (odoo.Client, error) {
		builds++
		return &fakeClient{}, nil
	}, nil)

	_, err := p.Get(context.Background(), "prod")
	require.NoError(t, err)

	store.Replace(config.InstanceMap{
		"prod": {Name: "prod", BaseURL: "https://prod.example.com", APIKey: "k2"},
	})
	_, err = p.Get(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestReconcileDropsRemovedInstances(t *testing.T) {
	store := config.NewStore(config.InstanceMap{
		"prod": {Name: "prod", BaseURL: "https://prod.example.com", APIKey: "k"},
	})
	p := New(store, func(d *config.InstanceDescriptor, _ *zap.Logger) (odoo.Client, error) {
		return &fakeClient{}, nil
	}, nil)
	_, err := p.Get(context.Background(), "prod")
	require.NoError(t, err)

	store.Replace(config.InstanceMap{})
	p.Reconcile()

	p.mu.RLock()
	n := len(p.handles)
	p.mu.RUnlock()
	assert.Zero(t, n)
}

// TestGetDoesNotSerializeAcrossDifferentNames pins down §4.C's "construction
// is serialized per-name; different names construct in parallel": a slow
// build for "a" must never block a concurrent Get for "b". Each factory call
// blocks until released, so if Get held one process-wide lock only one build
// could start and the test would fail after timing out while waiting for the
// second one.
func TestGetDoesNotSerializeAcrossDifferentNames(t *testing.T) {
	store := config.NewStore(config.InstanceMap{
		"a": {Name: "a", BaseURL: "https://a.example.com", APIKey: "k"},
		"b": {Name: "b", BaseURL: "https://b.example.com", APIKey: "k"},
	})
	started := make(chan string, 2)
	release := make(chan struct{})
	p := New(store, func(d *config.InstanceDescriptor, _ *zap.Logger) (odoo.Client, error) {
		started <- d.Name
		<-release
		return &fakeClient{}, nil
	}, nil)

	done := make(chan error, 2)
	go func() { _, err := p.Get(context.Background(), "a"); done <- err }()
	go func() { _, err := p.Get(context.Background(), "b"); done <- err }()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for both builds to start concurrently; construction is serialized across names")
		}
	}
	assert.True(t, seen["a"] && seen["b"])

	close(release)
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}
