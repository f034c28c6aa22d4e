package rows

import (
	"sync"
	"time"

	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

type tableKey struct {
	connID int64
	schema string
	name   string
}

type pageKey struct {
	table  tableKey
	limit  int
	offset int
}

type pageEntry struct {
	page    *Page
	expires time.Time
}

// Snapshot marks the cache state a read started from. A page is only stored
// if no invalidation touched its table since the snapshot was taken.
type Snapshot struct {
	version uint64
	epoch   uint64
}

// PageCache holds recently served pages per (connection, table, limit,
// offset). A ttl of zero disables it.
type PageCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	pages    map[pageKey]pageEntry
	versions map[tableKey]uint64
	epoch    uint64 // bumped when a whole connection is purged
}

// NewPageCache creates a cache.
func NewPageCache(ttl time.Duration) *PageCache {
	return &PageCache{
		ttl:      ttl,
		now:      time.Now,
		pages:    make(map[pageKey]pageEntry),
		versions: make(map[tableKey]uint64),
	}
}

func keyFor(connID int64, ref schema.TableRef) tableKey {
	return tableKey{connID: connID, schema: ref.Schema, name: ref.Name}
}

// Get returns a cached page that has not expired.
func (c *PageCache) Get(connID int64, ref schema.TableRef, limit, offset int) (*Page, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := pageKey{table: keyFor(connID, ref), limit: limit, offset: offset}
	e, ok := c.pages[k]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.pages, k)
		return nil, false
	}
	return e.page, true
}

// Snapshot records the table's version before a read.
func (c *PageCache) Snapshot(connID int64, ref schema.TableRef) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{version: c.versions[keyFor(connID, ref)], epoch: c.epoch}
}

// Put stores page unless the table was invalidated after snap was taken.
func (c *PageCache) Put(connID int64, ref schema.TableRef, limit, offset int, snap Snapshot, page *Page) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := keyFor(connID, ref)
	if c.versions[tk] != snap.version || c.epoch != snap.epoch {
		return false
	}
	c.pages[pageKey{table: tk, limit: limit, offset: offset}] = pageEntry{page: page, expires: c.now().Add(c.ttl)}
	return true
}

// Invalidate drops every cached page of a table.
func (c *PageCache) Invalidate(connID int64, ref schema.TableRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := keyFor(connID, ref)
	c.versions[tk]++
	for k := range c.pages {
		if k.table == tk {
			delete(c.pages, k)
		}
	}
}

// PurgeConn drops every cached page of a connection.
func (c *PageCache) PurgeConn(connID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for k := range c.pages {
		if k.table.connID == connID {
			delete(c.pages, k)
		}
	}
	for k := range c.versions {
		if k.connID == connID {
			delete(c.versions, k)
		}
	}
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}
