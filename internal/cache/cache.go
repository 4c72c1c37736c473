// Package cache implements the short-TTL metadata cache (§4.D): a
// bbolt-backed store keyed by (instance, model) holding the raw field
// metadata returned by Odoo's fields_get. Grounded on the corpus's
// internal/cache/manager.go bucket-pair/stats/background-cleanup shape,
// trimmed of its response-pagination helpers (this cache stores only model
// metadata, never record data, per the spec's explicit non-goal).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	bucketEntries = "metadata_entries"
	bucketStats   = "metadata_stats"

	// DefaultTTL matches the spec's default: 1 hour.
	DefaultTTL      = time.Hour
	cleanupInterval = 10 * time.Minute
)

// Stats counts cache activity, mirroring the corpus's hit/miss/eviction
// counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Evicted  int64 `json:"evicted"`
	Entries  int64 `json:"entries"`
}

type entry struct {
	Instance  string          `json:"instance"`
	Fields    json.RawMessage `json:"fields"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// FetchFunc calls the underlying client's fields_get on a cache miss.
type FetchFunc func() (map[string]interface{}, error)

// Cache is the metadata cache (§4.D and §3 MetadataCacheEntry). Lookup on a
// miss or expired entry calls the supplied FetchFunc, stores the result,
// and returns a clone; duplicate concurrent misses are acceptable per the
// spec (last writer wins), so no stampede lock is held across the fetch.
type Cache struct {
	db     *bbolt.DB
	ttl    time.Duration
	logger *zap.Logger
	stats  Stats
	stopCh chan struct{}
}

// New opens (creating if necessary) the buckets backing the cache.
func New(db *bbolt.DB, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{db: db, ttl: ttl, logger: logger, stopCh: make(chan struct{})}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketEntries)); err != nil {
			return fmt.Errorf("create metadata cache bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketStats)); err != nil {
			return fmt.Errorf("create metadata cache stats bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	go c.runCleanup()
	return c, nil
}

// key derives the bucket key for (instance, model) per §4.D:
// sha256(instance_name + "\x00" + model_name) hex. Hashing means the key no
// longer carries a recoverable instance prefix, so entry also stores the
// instance name for InvalidateInstance to match against.
func key(instance, model string) []byte {
	sum := sha256.Sum256([]byte(instance + "\x00" + model))
	return []byte(hex.EncodeToString(sum[:]))
}

// GetOrFetch returns the field metadata for (instance, model), serving from
// cache within TTL or calling fetch on miss/expiry, per §4.D.
func (c *Cache) GetOrFetch(instance, model string, fetch FetchFunc) (map[string]interface{}, error) {
	if fields, ok := c.lookup(instance, model); ok {
		return fields, nil
	}

	fields, err := fetch()
	if err != nil {
		return nil, err
	}
	c.store(instance, model, fields)
	return fields, nil
}

func (c *Cache) lookup(instance, model string) (map[string]interface{}, bool) {
	var out map[string]interface{}
	hit := false

	_ = c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntries))
		raw := bucket.Get(key(instance, model))
		if raw == nil {
			c.stats.Misses++
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			_ = bucket.Delete(key(instance, model))
			c.stats.Misses++
			return nil
		}
		if e.expired(time.Now()) {
			_ = bucket.Delete(key(instance, model))
			c.stats.Evicted++
			c.stats.Misses++
			return nil
		}
		if err := json.Unmarshal(e.Fields, &out); err != nil {
			c.stats.Misses++
			return nil
		}
		c.stats.Hits++
		hit = true
		return nil
	})
	return out, hit
}

func (c *Cache) store(instance, model string, fields map[string]interface{}) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return
	}
	e := entry{Instance: instance, Fields: raw, ExpiresAt: time.Now().Add(c.ttl)}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntries))
		if err := bucket.Put(key(instance, model), data); err != nil {
			return err
		}
		c.stats.Entries++
		return nil
	})
}

// InvalidateInstance clears all cached entries for instance, called when
// its descriptor changes (§4.D: "Clear all entries for an instance when
// its descriptor changes"). Keys are opaque sha256 hashes, so this scans the
// bucket and matches on the instance name recorded in each entry's value.
func (c *Cache) InvalidateInstance(instance string) {
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntries))
		cursor := bucket.Cursor()
		var toDelete [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var e entry
			if json.Unmarshal(v, &e) != nil || e.Instance != instance {
				continue
			}
			dup := append([]byte(nil), k...)
			toDelete = append(toDelete, dup)
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			c.stats.Entries--
		}
		return nil
	})
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

func (c *Cache) runCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) cleanupExpired() {
	now := time.Now()
	removed := 0
	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEntries))
		cursor := bucket.Cursor()
		var toDelete [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var e entry
			if json.Unmarshal(v, &e) != nil || e.expired(now) {
				dup := append([]byte(nil), k...)
				toDelete = append(toDelete, dup)
			}
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("metadata cache cleanup failed", zap.Error(err))
		}
		return
	}
	if removed > 0 {
		c.stats.Evicted += int64(removed)
		c.stats.Entries -= int64(removed)
		if c.logger != nil {
			c.logger.Debug("metadata cache cleanup", zap.Int("removed", removed))
		}
	}
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	close(c.stopCh)
}
