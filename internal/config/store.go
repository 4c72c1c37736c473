package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
)

// Environment variable names recognized for instance configuration.
const (
	EnvInstancesJSON = "ODOO_MCP_INSTANCES"
	EnvInstancesFile = "ODOO_MCP_INSTANCES_FILE"

	EnvURL      = "ODOO_URL"
	EnvDB       = "ODOO_DB"
	EnvAPIKey   = "ODOO_API_KEY"
	EnvUsername = "ODOO_USERNAME"
	EnvPassword = "ODOO_PASSWORD"
	EnvVersion  = "ODOO_VERSION"
)

// DefaultInstanceName is used for the single descriptor synthesized from
// scalar environment variables.
const DefaultInstanceName = "default"

// InstanceMap is the on-disk / env-var shape of instances.json: a mapping
// from instance name to descriptor.
type InstanceMap map[string]*InstanceDescriptor

// Store is a read-only accessor over the current instance mapping. It is
// replaced wholesale (never mutated in place) whenever the underlying
// source changes, via an atomic pointer swap so concurrent readers never
// observe a partially updated mapping.
type Store struct {
	current atomic.Pointer[InstanceMap]
}

// NewStore constructs a Store already holding m.
func NewStore(m InstanceMap) *Store {
	s := &Store{}
	s.Replace(m)
	return s
}

// Get returns the descriptor for name, or nil if it is not known.
func (s *Store) Get(name string) *InstanceDescriptor {
	m := *s.current.Load()
	d, ok := m[name]
	if !ok {
		return nil
	}
	return d
}

// List returns the known instance names in sorted order.
func (s *Store) List() []string {
	m := *s.current.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace atomically swaps the current mapping for m.
func (s *Store) Replace(m InstanceMap) {
	if m == nil {
		m = InstanceMap{}
	}
	s.current.Store(&m)
}

// Snapshot returns the current mapping (read-only use only; callers must
// not mutate the returned map).
func (s *Store) Snapshot() InstanceMap {
	return *s.current.Load()
}

// Diff compares s's current mapping against next and reports which names
// were added, changed (different connection parameters), or removed. Used
// by the client pool to decide which handles to invalidate on reload.
func (s *Store) Diff(next InstanceMap) (added, changed, removed []string) {
	cur := s.Snapshot()
	for name, desc := range next {
		old, ok := cur[name]
		if !ok {
			added = append(added, name)
		} else if !old.Equal(desc) {
			changed = append(changed, name)
		}
	}
	for name := range cur {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, changed, removed
}

// LoadInstances resolves the instance mapping using the precedence order
// from 4.A: inline JSON env var, then a JSON file (explicit path or one
// discovered in configDir), then scalar env var synthesis.
func LoadInstances(configDir string) (InstanceMap, error) {
	if raw := os.Getenv(EnvInstancesJSON); raw != "" {
		return parseInstanceMap([]byte(raw), "env:"+EnvInstancesJSON)
	}

	path := os.Getenv(EnvInstancesFile)
	if path == "" {
		path = defaultInstancesPath(configDir)
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return parseInstanceMap(data, path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read instances file %s: %w", path, err)
		}
	}

	if scalar := instanceFromScalarEnv(); scalar != nil {
		return InstanceMap{DefaultInstanceName: scalar}, nil
	}

	return InstanceMap{}, nil
}

func defaultInstancesPath(configDir string) string {
	if configDir == "" {
		return ""
	}
	return configDir + "/instances.json"
}

// ResolveInstancesPath returns the effective instances.json path per the
// precedence in LoadInstances: explicit env var, else configDir-relative.
// Returns "" when instances are sourced from the inline-JSON env var, since
// there is then no file to persist a config-manager write to or watch for
// hot-reload.
func ResolveInstancesPath(configDir string) string {
	if os.Getenv(EnvInstancesJSON) != "" {
		return ""
	}
	if path := os.Getenv(EnvInstancesFile); path != "" {
		return path
	}
	return defaultInstancesPath(configDir)
}

func parseInstanceMap(data []byte, source string) (InstanceMap, error) {
	var m InstanceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse instances from %s: %w", source, err)
	}
	if err := NormalizeAndValidate(m); err != nil {
		return nil, fmt.Errorf("invalid instances in %s: %w", source, err)
	}
	return m, nil
}

// NormalizeAndValidate fills in each descriptor's Name/derived fields and
// checks every data-model invariant from §3, collecting every violation
// rather than stopping at the first. Used both by file/env loading and by
// the config-manager's POST /api/config/instances (§6.2), whose rollback
// contract relies on validating a candidate map before anything touches
// disk or the live Store.
func NormalizeAndValidate(m InstanceMap) error {
	var errs []error
	for name, d := range m {
		if d == nil {
			errs = append(errs, fmt.Errorf("instance %q: empty descriptor", name))
			continue
		}
		d.Name = name
		d.normalize()
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func instanceFromScalarEnv() *InstanceDescriptor {
	url := os.Getenv(EnvURL)
	db := os.Getenv(EnvDB)
	if url == "" {
		return nil
	}
	d := &InstanceDescriptor{
		Name:     DefaultInstanceName,
		BaseURL:  url,
		Database: db,
		APIKey:   os.Getenv(EnvAPIKey),
		Username: os.Getenv(EnvUsername),
		Password: os.Getenv(EnvPassword),
		Version:  os.Getenv(EnvVersion),
	}
	d.normalize()
	if err := d.Validate(); err != nil {
		return nil
	}
	return d
}

func joinErrors(errs []error) error {
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return fmt.Errorf("%s", msg)
}
