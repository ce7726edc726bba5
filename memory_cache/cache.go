package memory_cache

import (
	"container/list"
	"image"
	"reflect"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/metrics"
)

const metricsLabel = "memory"

// EvictReason says why an entry was destroyed.
type EvictReason string

const (
	ReasonBudget      EvictReason = "budget"
	ReasonInvalidated EvictReason = "invalidated"
	ReasonReplaced    EvictReason = "replaced"
)

type entry struct {
	key        cache_key.Key
	img        image.Image
	size       int64
	lastAccess time.Time
	refs       int

	// detached entries are no longer reachable by key and are destroyed on their last release
	detached bool
	reason   EvictReason
	elem     *list.Element
}

// Cache is an LRU of decoded images bounded by an estimated byte budget. Entries handed out through
// a Handle are never evicted while the handle is held.
type Cache struct {
	mu       sync.Mutex
	budget   int64
	size     int64
	liveSize int64
	lru      *list.List // front is most recently used
	items    map[cache_key.Key]*entry
	log      *logrus.Entry

	// OnEvict, when set, is called (outside the lock) for every destroyed entry.
	OnEvict func(key cache_key.Key, img image.Image, reason EvictReason)
}

func New(budgetBytes int64, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.WithField("cache", metricsLabel)
	}
	return &Cache{
		budget: budgetBytes,
		lru:    list.New(),
		items:  make(map[cache_key.Key]*entry),
		log:    log,
	}
}

type destroyed struct {
	key    cache_key.Key
	img    image.Image
	reason EvictReason
}

// Get returns an acquired handle for the key. The caller must Release it.
func (c *Cache) Get(key cache_key.Key) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.With(prometheus.Labels{"cache": metricsLabel}).Inc()
		return nil, false
	}
	metrics.CacheHits.With(prometheus.Labels{"cache": metricsLabel}).Inc()
	return c.acquireLocked(e), true
}

// Contains reports whether the key is cached without touching recency or references.
func (c *Cache) Contains(key cache_key.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put inserts or replaces the image stored under key.
func (c *Cache) Put(key cache_key.Key, img image.Image, size int64) {
	if img == nil {
		return
	}
	c.mu.Lock()
	_, gone := c.putLocked(key, img, size)
	gone = append(gone, c.evictLocked()...)
	c.mu.Unlock()
	c.notify(gone)
}

// PutAndAcquire is Put followed by Get for the same key, without a window in which the new entry
// could be evicted.
func (c *Cache) PutAndAcquire(key cache_key.Key, img image.Image, size int64) *Handle {
	c.mu.Lock()
	e, gone := c.putLocked(key, img, size)
	h := c.acquireLocked(e)
	gone = append(gone, c.evictLocked()...)
	c.mu.Unlock()
	c.notify(gone)
	return h
}

func (c *Cache) putLocked(key cache_key.Key, img image.Image, size int64) (*entry, []destroyed) {
	if size < 0 {
		size = 0
	}
	var gone []destroyed
	if existing, ok := c.items[key]; ok {
		if sameImage(existing.img, img) {
			existing.lastAccess = time.Now()
			c.lru.MoveToFront(existing.elem)
			return existing, nil
		}
		if d, ok := c.detachLocked(existing, ReasonReplaced); ok {
			gone = append(gone, d)
		}
	}

	e := &entry{
		key:        key,
		img:        img,
		size:       size,
		lastAccess: time.Now(),
	}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
	c.size += size
	return e, gone
}

func sameImage(a image.Image, b image.Image) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (c *Cache) acquireLocked(e *entry) *Handle {
	e.refs++
	if e.refs == 1 {
		c.liveSize += e.size
	}
	if !e.detached {
		e.lastAccess = time.Now()
		c.lru.MoveToFront(e.elem)
	}
	return &Handle{c: c, e: e}
}

// detachLocked removes e from lookup. Unreferenced entries are destroyed right away (returned),
// referenced ones are destroyed by their last Release.
func (c *Cache) detachLocked(e *entry, reason EvictReason) (destroyed, bool) {
	delete(c.items, e.key)
	c.lru.Remove(e.elem)
	c.size -= e.size
	e.detached = true
	e.reason = reason
	if e.refs > 0 {
		return destroyed{}, false
	}
	return destroyed{key: e.key, img: e.img, reason: reason}, true
}

func (c *Cache) evictLocked() []destroyed {
	var gone []destroyed
	el := c.lru.Back()
	for c.size > c.budget && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.refs == 0 {
			if d, ok := c.detachLocked(e, ReasonBudget); ok {
				gone = append(gone, d)
			}
		}
		el = prev
	}
	if c.size > c.budget {
		c.log.Debugf("Memory cache over budget by %s: all remaining entries are in use", humanize.Bytes(uint64(c.size-c.budget)))
	}
	return gone
}

func (c *Cache) release(e *entry) {
	var gone []destroyed
	c.mu.Lock()
	e.refs--
	if e.refs == 0 {
		c.liveSize -= e.size
		if e.detached {
			gone = append(gone, destroyed{key: e.key, img: e.img, reason: e.reason})
		}
	}
	c.mu.Unlock()
	c.notify(gone)
}

func (c *Cache) notify(gone []destroyed) {
	for _, d := range gone {
		metrics.CacheEvictions.With(prometheus.Labels{"cache": metricsLabel, "reason": string(d.reason)}).Inc()
		if c.OnEvict != nil {
			c.OnEvict(d.key, d.img, d.reason)
		}
	}
}

// Invalidate drops the key. If the entry is in use it stops being returned immediately and is
// destroyed once released.
func (c *Cache) Invalidate(key cache_key.Key) {
	var gone []destroyed
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if d, ok := c.detachLocked(e, ReasonInvalidated); ok {
			gone = append(gone, d)
		}
	}
	c.mu.Unlock()
	c.notify(gone)
}

func (c *Cache) Clear() {
	var gone []destroyed
	c.mu.Lock()
	for _, e := range c.items {
		if d, ok := c.detachLocked(e, ReasonInvalidated); ok {
			gone = append(gone, d)
		}
	}
	c.mu.Unlock()
	c.log.Info("Memory cache cleared")
	c.notify(gone)
}

// SetBudget changes the byte budget, evicting as needed.
func (c *Cache) SetBudget(budgetBytes int64) {
	c.mu.Lock()
	c.budget = budgetBytes
	gone := c.evictLocked()
	c.mu.Unlock()
	c.notify(gone)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size is the estimated bytes of all entries reachable by key.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// RefreshMetrics publishes the cache gauges.
func (c *Cache) RefreshMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.CacheNumItems.With(prometheus.Labels{"cache": metricsLabel}).Set(float64(len(c.items)))
	metrics.CacheNumBytes.With(prometheus.Labels{"cache": metricsLabel}).Set(float64(c.size))
	metrics.CacheLiveNumBytes.With(prometheus.Labels{"cache": metricsLabel}).Set(float64(c.liveSize))
}

// EstimateSize approximates the decoded footprint of img as 4 bytes per pixel.
func EstimateSize(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
