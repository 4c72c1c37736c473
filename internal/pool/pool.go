// Package pool manages one live Odoo client per configured instance,
// rebuilding a client only when its descriptor actually changes. Grounded on
// the corpus's upstream manager pattern (a concurrent map of named handles
// guarded by a lock, with double-checked construction to avoid building the
// same client twice under concurrent first access).
package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
)

// Factory builds a Client for a descriptor. A field so tests can substitute
// a fake without touching the network.
type Factory func(descriptor *config.InstanceDescriptor, logger *zap.Logger) (odoo.Client, error)

type handle struct {
	client     odoo.Client
	descriptor *config.InstanceDescriptor
}

// Pool holds one handle per instance name, keyed by config.Store. Handles
// are invalidated and rebuilt lazily, on next Get, once their descriptor
// changes or is removed.
type Pool struct {
	store   *config.Store
	factory Factory
	logger  *zap.Logger

	mu      sync.RWMutex
	handles map[string]*handle

	// buildLocks holds one mutex per instance name, serializing concurrent
	// first-construction for that name only: a caller building "a" never
	// blocks a concurrent caller building "b".
	buildLocks map[string]*sync.Mutex
}

// New constructs a Pool backed by store, using factory to build clients.
func New(store *config.Store, factory Factory, logger *zap.Logger) *Pool {
	if factory == nil {
		factory = odoo.New
	}
	return &Pool{
		store:      store,
		factory:    factory,
		logger:     logger,
		handles:    make(map[string]*handle),
		buildLocks: make(map[string]*sync.Mutex),
	}
}

// buildLock returns the per-name construction mutex for name, creating it
// on first use.
func (p *Pool) buildLock(name string) *sync.Mutex {
	p.mu.Lock()
	l, ok := p.buildLocks[name]
	if !ok {
		l = &sync.Mutex{}
		p.buildLocks[name] = l
	}
	p.mu.Unlock()
	return l
}

// Get returns the live client for name, building or rebuilding it if the
// instance's descriptor is new or has changed since the handle was built.
// Construction is serialized per name only, so a build in progress for one
// instance never blocks a Get for a different instance.
func (p *Pool) Get(ctx context.Context, name string) (odoo.Client, error) {
	descriptor := p.store.Get(name)
	if descriptor == nil {
		return nil, fmt.Errorf("no configured instance named %q", name)
	}

	p.mu.RLock()
	h, ok := p.handles[name]
	p.mu.RUnlock()
	if ok && h.descriptor.Equal(descriptor) {
		return h.client, nil
	}

	lock := p.buildLock(name)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the build lock: another goroutine may have
	// already rebuilt this handle while we were waiting.
	p.mu.RLock()
	h, ok = p.handles[name]
	p.mu.RUnlock()
	if ok && h.descriptor.Equal(descriptor) {
		return h.client, nil
	}

	client, err := p.factory(descriptor, p.logger)
	if err != nil {
		return nil, fmt.Errorf("build client for instance %q: %w", name, err)
	}

	p.mu.Lock()
	p.handles[name] = &handle{client: client, descriptor: descriptor.Clone()}
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Info("odoo client ready", zap.String("instance", name), zap.String("base_url", descriptor.BaseURL))
	}
	return client, nil
}

// Names returns the set of instance names currently configured.
func (p *Pool) Names() []string {
	return p.store.List()
}

// Invalidate drops name's cached handle, forcing the next Get to rebuild it.
// The per-name build lock is kept (not deleted): a concurrent Get racing
// this call must still serialize against it, and the set of distinct
// instance names is bounded, so there is nothing to reclaim.
func (p *Pool) Invalidate(name string) {
	p.mu.Lock()
	delete(p.handles, name)
	p.mu.Unlock()
}

// Reconcile drops handles for instances removed from the store. Call this
// after a config reload so stale handles don't linger for instances that no
// longer exist; changed and added instances are picked up lazily by Get.
func (p *Pool) Reconcile() {
	known := make(map[string]bool)
	for _, name := range p.store.List() {
		known[name] = true
	}
	p.mu.Lock()
	for name := range p.handles {
		if !known[name] {
			delete(p.handles, name)
		}
	}
	p.mu.Unlock()
}
