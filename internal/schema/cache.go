package schema

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type metaKey struct {
	connID int64
	schema string
	name   string
}

// String renders the key for singleflight. Names are quoted so distinct
// tables never share a key.
func (k metaKey) String() string {
	return strconv.FormatInt(k.connID, 10) + "/" + strconv.Quote(k.schema) + "/" + strconv.Quote(k.name)
}

type metaEntry struct {
	meta    *TableMeta
	expires time.Time // zero means no expiry
}

// MetaCache holds table metadata per (connection id, schema, name).
// Concurrent misses for the same key share one load.
type MetaCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[metaKey]metaEntry
	epoch   uint64 // bumped on every eviction; loads started earlier are not stored
}

// NewMetaCache creates a cache. ttl <= 0 keeps entries until evicted.
func NewMetaCache(ttl time.Duration) *MetaCache {
	return &MetaCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[metaKey]metaEntry),
	}
}

// Get returns the cached metadata or loads it with load.
func (c *MetaCache) Get(ctx context.Context, connID int64, ref TableRef, load func(context.Context) (*TableMeta, error)) (*TableMeta, error) {
	key := metaKey{connID: connID, schema: ref.Schema, name: ref.Name}
	if meta, ok := c.lookup(key); ok {
		return meta, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if meta, ok := c.lookup(key); ok {
			return meta, nil
		}
		epoch := c.currentEpoch()
		meta, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, meta, epoch)
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableMeta), nil
}

func (c *MetaCache) lookup(key metaKey) (*TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		return nil, false
	}
	return e.meta, true
}

func (c *MetaCache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *MetaCache) store(key metaKey, meta *TableMeta, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.entries[key] = metaEntry{meta: meta, expires: expires}
}

// Evict drops the entry for one table.
func (c *MetaCache) Evict(connID int64, ref TableRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	delete(c.entries, metaKey{connID: connID, schema: ref.Schema, name: ref.Name})
}

// PurgeConn drops every entry of a connection.
func (c *MetaCache) PurgeConn(connID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for k := range c.entries {
		if k.connID == connID {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries, expired ones included.
func (c *MetaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
