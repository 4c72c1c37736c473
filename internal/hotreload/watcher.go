// Package hotreload watches the registry's on-disk JSON files and the
// instance-config file for changes and republishes fresh snapshots without
// restarting the process (§4.H). Grounded on the corpus's
// internal/runtime/config_hotreload.go debounce-then-reload shape and
// internal/tray/tray.go's fsnotify.NewWatcher usage.
package hotreload

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// debounceWindow matches the spec's "debounces for ~150 ms" (§4.H).
const debounceWindow = 150 * time.Millisecond

// InstanceSource reloads the instance mapping from its original source
// (inline env, file, or scalar env) when the watched instance file changes.
type InstanceSource func() (config.InstanceMap, error)

// Watcher observes the registry's three JSON files plus an optional
// instances file, debounces bursts of filesystem events, and republishes a
// snapshot on each settled change. It watches each file's *containing
// directory* rather than the file itself: inotify binds a per-file watch to
// the inode present at Add() time, and every write path in this process
// (internal/config.AtomicWriteFile) persists via write-temp-then-rename,
// which replaces that inode. A per-file watch would silently stop firing
// after the first write; a directory watch, filtered by basename, survives
// renames because the directory's own inode never changes.
type Watcher struct {
	reg       *registry.Registry
	store     *config.Store
	pool      *pool.Pool
	cache     *cache.Cache
	loadInst  InstanceSource
	instPath  string
	logger    *zap.Logger
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}

	// watched maps a directory to the set of basenames within it that
	// should trigger a reload; events for any other file in a watched
	// directory are ignored.
	watched map[string]map[string]bool
}

// New constructs a Watcher. instPath may be empty if instances are sourced
// from an inline env var (nothing to watch in that case). c may be nil if
// the metadata cache needn't be invalidated (e.g. in tests).
func New(reg *registry.Registry, store *config.Store, p *pool.Pool, c *cache.Cache, loadInst InstanceSource, instPath string, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		reg:       reg,
		store:     store,
		pool:      p,
		cache:     c,
		loadInst:  loadInst,
		instPath:  instPath,
		logger:    logger,
		fsWatcher: fsWatcher,
		stopCh:    make(chan struct{}),
		watched:   make(map[string]map[string]bool),
	}

	paths := []string{reg.ToolsPath(), reg.PromptsPath(), reg.ServerPath()}
	if instPath != "" {
		paths = append(paths, instPath)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		w.addWatchedFile(path)
	}

	return w, nil
}

// addWatchedFile registers path's basename against its containing
// directory, adding an fsnotify watch on that directory the first time it
// is seen.
func (w *Watcher) addWatchedFile(path string) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if w.watched[dir] == nil {
		if err := w.fsWatcher.Add(dir); err != nil {
			if w.logger != nil {
				w.logger.Warn("hot-reload: failed to watch directory", zap.String("dir", dir), zap.Error(err))
			}
			return
		}
		w.watched[dir] = make(map[string]bool)
	}
	w.watched[dir][base] = true
}

// isWatchedFile reports whether path matches one of the registered
// directory+basename pairs, filtering out events for unrelated files in a
// watched directory.
func (w *Watcher) isWatchedFile(path string) bool {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return w.watched[dir] != nil && w.watched[dir][base]
}

// Run blocks, debouncing fsnotify events and reloading on each settled
// burst, until Stop is called.
func (w *Watcher) Run() {
	var timer *time.Timer
	pending := false

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(debounceWindow)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(debounceWindow)
	}

	var timerC <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.isWatchedFile(event.Name) {
				continue
			}
			pending = true
			resetTimer()
			timerC = timer.C

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("hot-reload: watcher error", zap.Error(err))
			}

		case <-timerC:
			if pending {
				pending = false
				w.reload()
			}
			timerC = nil

		case <-w.stopCh:
			return
		}
	}
}

// reload re-reads the instance file (if any) and the registry files,
// publishing a new snapshot only on success. On validation failure the
// previous snapshot is retained and the error is logged (§4.H).
func (w *Watcher) reload() {
	if w.instPath != "" && w.loadInst != nil {
		next, err := w.loadInst()
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("hot-reload: instance config reload failed, keeping previous mapping", zap.Error(err))
			}
		} else {
			_, changed, removed := w.store.Diff(next)
			w.store.Replace(next)
			for _, name := range changed {
				w.pool.Invalidate(name)
				if w.cache != nil {
					w.cache.InvalidateInstance(name)
				}
			}
			if len(removed) > 0 {
				w.pool.Reconcile()
				if w.cache != nil {
					for _, name := range removed {
						w.cache.InvalidateInstance(name)
					}
				}
			}
			if (len(changed) > 0 || len(removed) > 0) && w.logger != nil {
				w.logger.Info("hot-reload: instance config updated", zap.Strings("changed", changed), zap.Strings("removed", removed))
			}
		}
	}

	if err := w.reg.Reload(); err != nil {
		if w.logger != nil {
			w.logger.Warn("hot-reload: registry reload failed, keeping previous snapshot", zap.Error(err))
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("hot-reload: registry snapshot published")
	}
}

// Stop closes the underlying fsnotify watcher and unblocks Run.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.fsWatcher.Close()
}
