package ironbase

import (
	"container/list"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ironbase/ironbase/internal/storage"
)

// lruCache is a fixed-capacity least-recently-used cache, generalizing the
// teacher's BufferPool eviction policy (same container/list idiom: a
// doubly-linked list for recency order plus a map for O(1) lookup) to an
// arbitrary key/value pair instead of the teacher's fixed page-frame type.
type lruCache[K comparable, V any] struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List
	elements map[K]*list.Element
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	return &lruCache[K, V]{
		cap:      capacity,
		ll:       list.New(),
		elements: make(map[K]*list.Element, capacity),
	}
}

func (c *lruCache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

func (c *lruCache[K, V]) put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elements[key]; ok {
		el.Value.(*lruEntry[K, V]).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.elements[key] = el
	if c.ll.Len() > c.cap {
		c.evictOldest()
	}
}

func (c *lruCache[K, V]) evictOldest() {
	oldest := c.ll.Back()
	if oldest == nil {
		return
	}
	c.ll.Remove(oldest)
	delete(c.elements, oldest.Value.(*lruEntry[K, V]).key)
}

func (c *lruCache[K, V]) deleteWhere(match func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.elements {
		if match(k) {
			c.ll.Remove(el)
			delete(c.elements, k)
		}
	}
}

func (c *lruCache[K, V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.elements = make(map[K]*list.Element, c.cap)
}

// recordCache caches decoded documents keyed by their primary-file offset
// (spec §4.11's record cache). An offset is never reused for different
// content once written, so a cache hit never needs a freshness check; the
// only invalidation this cache ever performs is the wholesale clear() that
// Compact triggers, since compaction renumbers every offset.
type recordCache struct {
	inner *lruCache[int64, storage.Document]
}

func newRecordCache(capacity int) *recordCache {
	return &recordCache{inner: newLRUCache[int64, storage.Document](capacity)}
}

func (c *recordCache) get(offset int64) (storage.Document, bool) {
	return c.inner.get(offset)
}

func (c *recordCache) put(offset int64, doc storage.Document) {
	c.inner.put(offset, doc)
}

func (c *recordCache) invalidateAll() {
	c.inner.clear()
}

// queryCacheKey fingerprints one find() call: the collection plus a hash of
// its filter/sort/skip/limit/projection, so distinct calls with the same
// shape share an entry.
type queryCacheKey struct {
	collection  string
	fingerprint string
}

// queryCache caches find() result sets (spec §4.11). A write to any
// document in a collection invalidates every cached entry for that
// collection outright rather than attempting per-entry dependency tracking,
// since the filter a cached entry matched against is opaque once fingerprinted.
type queryCache struct {
	inner *lruCache[queryCacheKey, []storage.Document]
}

func newQueryCache(capacity int) *queryCache {
	return &queryCache{inner: newLRUCache[queryCacheKey, []storage.Document](capacity)}
}

func (c *queryCache) get(collection, fingerprint string) ([]storage.Document, bool) {
	return c.inner.get(queryCacheKey{collection: collection, fingerprint: fingerprint})
}

func (c *queryCache) put(collection, fingerprint string, docs []storage.Document) {
	c.inner.put(queryCacheKey{collection: collection, fingerprint: fingerprint}, docs)
}

func (c *queryCache) invalidateCollection(collection string) {
	c.inner.deleteWhere(func(k queryCacheKey) bool { return k.collection == collection })
}

func (c *queryCache) invalidateAll() {
	c.inner.clear()
}

// queryFingerprint hashes a find() call's shape into a short, stable key.
// fmt's "%v" rendering of a map sorts keys before printing, so two
// structurally equal filter/sort/projection maps always hash the same
// regardless of the original Go map's (unspecified) iteration order.
func queryFingerprint(filter map[string]interface{}, opts FindOptions) string {
	h := sha1.New()
	fmt.Fprintf(h, "f=%v|s=%v|k=%d|l=%d|p=%v", filter, opts.Sort, opts.Skip, opts.Limit, opts.Projection)
	sum := h.Sum(nil)
	var n uint64
	n = binary.BigEndian.Uint64(sum[:8])
	return fmt.Sprintf("%016x", n)
}
