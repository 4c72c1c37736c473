package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newDB(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	return db
}

func TestGetOrFetchCallsFetchOnceOnHit(t *testing.T) {
	c, err := New(newDB(t), time.Hour, nil)
	require.NoError(t, err)

	calls := 0
	fetch := func() (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"name": "char"}, nil
	}

	fields, err := c.GetOrFetch("default", "res.partner", fetch)
	require.NoError(t, err)
	assert.Equal(t, "char", fields["name"])

	fields, err = c.GetOrFetch("default", "res.partner", fetch)
	require.NoError(t, err)
	assert.Equal(t, "char", fields["name"])
	assert.Equal(t, 1, calls, "second lookup should be served from cache, not fetch")
}

func TestGetOrFetchPropagatesFetchError(t *testing.T) {
	c, err := New(newDB(t), time.Hour, nil)
	require.NoError(t, err)

	wantErr := errors.New("boom")
	_, err = c.GetOrFetch("default", "res.partner", func() (map[string]interface{}, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c, err := New(newDB(t), time.Millisecond, nil)
	require.NoError(t, err)

	calls := 0
	fetch := func() (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"n": calls}, nil
	}

	_, err = c.GetOrFetch("default", "res.partner", fetch)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.GetOrFetch("default", "res.partner", fetch)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "expired entry should be refetched")
}

func TestInvalidateInstanceClearsOnlyThatInstance(t *testing.T) {
	c, err := New(newDB(t), time.Hour, nil)
	require.NoError(t, err)

	_, err = c.GetOrFetch("a", "res.partner", func() (map[string]interface{}, error) {
		return map[string]interface{}{"x": 1}, nil
	})
	require.NoError(t, err)
	_, err = c.GetOrFetch("b", "res.partner", func() (map[string]interface{}, error) {
		return map[string]interface{}{"x": 2}, nil
	})
	require.NoError(t, err)

	c.InvalidateInstance("a")

	callsA := 0
	_, err = c.GetOrFetch("a", "res.partner", func() (map[string]interface{}, error) {
		callsA++
		return map[string]interface{}{"x": 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, callsA, "instance a should have been evicted")

	callsB := 0
	_, err = c.GetOrFetch("b", "res.partner", func() (map[string]interface{}, error) {
		callsB++
		return map[string]interface{}{"x": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, callsB, "instance b should remain cached")
}

func TestKeyIsSHA256HexOfInstanceAndModel(t *testing.T) {
	sum := sha256.Sum256([]byte("default" + "\x00" + "res.partner"))
	want := hex.EncodeToString(sum[:])
	got := string(key("default", "res.partner"))
	assert.Equal(t, want, got)
	assert.Len(t, got, 64)
}
