package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceDescriptorProtocolSelection(t *testing.T) {
	t.Run("api key only selects modern", func(t *testing.T) {
		d := &InstanceDescriptor{Name: "a", BaseURL: "https://odoo", APIKey: "k"}
		d.normalize()
		require.NoError(t, d.Validate())
		assert.Equal(t, ProtocolModern, d.SelectProtocol())
	})

	t.Run("version and credentials select legacy", func(t *testing.T) {
		d := &InstanceDescriptor{Name: "a", BaseURL: "https://odoo", Username: "u", Password: "p", Version: "18"}
		d.normalize()
		require.NoError(t, d.Validate())
		assert.Equal(t, ProtocolLegacy, d.SelectProtocol())
	})

	t.Run("auto with both credential sets prefers modern", func(t *testing.T) {
		d := &InstanceDescriptor{
			Name: "a", BaseURL: "https://odoo",
			APIKey: "k", Username: "u", Password: "p", Version: "18",
			Protocol: ProtocolAuto,
		}
		d.normalize()
		require.NoError(t, d.Validate())
		assert.Equal(t, ProtocolModern, d.SelectProtocol())
	})

	t.Run("explicit legacy hint wins even with both credential sets", func(t *testing.T) {
		d := &InstanceDescriptor{
			Name: "a", BaseURL: "https://odoo",
			APIKey: "k", Username: "u", Password: "p", Version: "18",
			Protocol: ProtocolLegacy,
		}
		d.normalize()
		require.NoError(t, d.Validate())
		assert.Equal(t, ProtocolLegacy, d.SelectProtocol())
	})

	t.Run("neither credential set is invalid", func(t *testing.T) {
		d := &InstanceDescriptor{Name: "a", BaseURL: "https://odoo"}
		d.normalize()
		assert.Error(t, d.Validate())
	})
}

func TestInstanceDescriptorNormalizeAddsScheme(t *testing.T) {
	d := &InstanceDescriptor{BaseURL: "odoo.example.com", APIKey: "k"}
	d.normalize()
	assert.Equal(t, "https://odoo.example.com", d.BaseURL)
}

func TestLoadInstancesPrecedenceInlineEnv(t *testing.T) {
	t.Setenv(EnvInstancesJSON, `{"default":{"url":"http://odoo:8069","db":"d","apiKey":"k"}}`)
	m, err := LoadInstances("")
	require.NoError(t, err)
	require.Contains(t, m, "default")
	assert.Equal(t, "http://odoo:8069", m["default"].BaseURL)
}

func TestLoadInstancesPrecedenceFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/instances.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"a":{"url":"http://a","db":"d","apiKey":"k"}}`), 0o600))

	m, err := LoadInstances(dir)
	require.NoError(t, err)
	require.Contains(t, m, "a")
}

func TestLoadInstancesScalarSynthesis(t *testing.T) {
	t.Setenv(EnvURL, "http://odoo:8069")
	t.Setenv(EnvDB, "mydb")
	t.Setenv(EnvAPIKey, "secret")

	m, err := LoadInstances("")
	require.NoError(t, err)
	require.Contains(t, m, DefaultInstanceName)
	assert.Equal(t, "mydb", m[DefaultInstanceName].Database)
}

func TestStoreDiff(t *testing.T) {
	s := NewStore(InstanceMap{
		"a": {Name: "a", BaseURL: "https://a", APIKey: "k1"},
		"b": {Name: "b", BaseURL: "https://b", APIKey: "k2"},
	})

	next := InstanceMap{
		"a": {Name: "a", BaseURL: "https://a", APIKey: "k1-changed"},
		"c": {Name: "c", BaseURL: "https://c", APIKey: "k3"},
	}

	added, changed, removed := s.Diff(next)
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, changed)
	assert.Equal(t, []string{"b"}, removed)
}

func TestAtomicWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.json"
	require.NoError(t, AtomicWriteFile(path, []byte(`{"ok":true}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}
