package disk_cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"hash/fnv"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/metrics"
)

const metricsLabel = "disk"
const tempDirName = ".tmp"
const lockStripes = 64

var errCorrupt = errors.New("checksum mismatch")

type indexEntry struct {
	size       int64
	writtenAt  time.Time
	lastAccess time.Time
}

// Cache stores byte payloads on a billy filesystem, one file per key, fanned out by the first two
// characters of the key. Every payload carries a SHA-256 trailer so torn or tampered files read
// as misses.
type Cache struct {
	fs      billy.Filesystem
	maxSize int64
	maxAge  time.Duration
	log     *logrus.Entry

	locks [lockStripes]sync.Mutex // striped by key hash
	fsMu  sync.RWMutex            // not every billy implementation is safe for concurrent use

	mu    sync.Mutex
	index map[cache_key.Key]*indexEntry
	total int64

	evicting atomic.Bool
	evictWg  sync.WaitGroup

	// now is replaceable for tests
	now func() time.Time
}

// New opens (or creates) a cache rooted at the filesystem's root. Existing entries are indexed
// from their modification times so they survive restarts.
func New(fs billy.Filesystem, maxSizeBytes int64, maxAge time.Duration, log *logrus.Entry) (*Cache, error) {
	if fs == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if log == nil {
		log = logrus.WithField("cache", metricsLabel)
	}
	c := &Cache{
		fs:      fs,
		maxSize: maxSizeBytes,
		maxAge:  maxAge,
		log:     log,
		index:   make(map[cache_key.Key]*indexEntry),
		now:     time.Now,
	}
	if err := fs.MkdirAll(tempDirName, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}
	c.cleanupTemp()
	if err := c.rebuildIndex(); err != nil {
		return nil, err
	}
	c.log.Infof("Disk cache holds %d entries (%s)", len(c.index), humanize.Bytes(uint64(c.total)))
	return c, nil
}

func (c *Cache) lockFor(key cache_key.Key) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.locks[h.Sum32()%lockStripes]
}

func pathFor(key cache_key.Key) string {
	return path.Join(key.Shard(), key.String())
}

func (c *Cache) cleanupTemp() {
	files, err := c.fs.ReadDir(tempDirName)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = c.fs.Remove(path.Join(tempDirName, f.Name()))
	}
}

func (c *Cache) rebuildIndex() error {
	shards, err := c.fs.ReadDir("")
	if err != nil {
		return common.CacheIOError(errors.Wrap(err, "failed to list cache root"))
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		files, err := c.fs.ReadDir(shard.Name())
		if err != nil {
			c.log.Warn("Skipping unreadable cache shard ", shard.Name(), ": ", err)
			continue
		}
		for _, f := range files {
			k := cache_key.Key(f.Name())
			if f.IsDir() || !k.Valid() || k.Shard() != shard.Name() {
				continue
			}
			c.index[k] = &indexEntry{
				size:       f.Size(),
				writtenAt:  f.ModTime(),
				lastAccess: f.ModTime(),
			}
			c.total += f.Size()
		}
	}
	return nil
}

// Read returns the payload stored for key. Expired entries read as a miss and are left for
// EvictExpired; corrupt entries are removed. Errors are always common.ErrCacheIO.
func (c *Cache) Read(ctx context.Context, key cache_key.Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	ie, ok := c.index[key]
	expired := ok && c.expiredLocked(ie)
	c.mu.Unlock()
	if !ok {
		metrics.CacheMisses.With(prometheus.Labels{"cache": metricsLabel}).Inc()
		return nil, false, nil
	}
	if expired {
		metrics.CacheMisses.With(prometheus.Labels{"cache": metricsLabel}).Inc()
		return nil, false, nil
	}

	data, err := c.readFile(pathFor(key))
	if err != nil {
		metrics.CacheMisses.With(prometheus.Labels{"cache": metricsLabel}).Inc()
		if os.IsNotExist(errors.Cause(err)) {
			c.forget(key)
			return nil, false, nil
		}
		if errors.Is(err, errCorrupt) {
			c.log.Warnf("Removing corrupt cache entry %s", key)
			c.removeLocked(key, "corrupt")
			return nil, false, nil
		}
		metrics.CacheErrors.With(prometheus.Labels{"cache": metricsLabel, "operation": "read"}).Inc()
		return nil, false, common.CacheIOError(err)
	}

	c.mu.Lock()
	if ie, ok := c.index[key]; ok {
		ie.lastAccess = c.now()
	}
	c.mu.Unlock()
	metrics.CacheHits.With(prometheus.Labels{"cache": metricsLabel}).Inc()
	return data, true, nil
}

func (c *Cache) expiredLocked(ie *indexEntry) bool {
	return c.maxAge > 0 && c.now().Sub(ie.writtenAt) > c.maxAge
}

func (c *Cache) readFile(p string) ([]byte, error) {
	c.fsMu.RLock()
	f, err := c.fs.Open(p)
	c.fsMu.RUnlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache file")
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache file")
	}
	if len(raw) < sha256.Size {
		return nil, errCorrupt
	}
	data := raw[:len(raw)-sha256.Size]
	sum := sha256.Sum256(data)
	if !bytes.Equal(sum[:], raw[len(raw)-sha256.Size:]) {
		return nil, errCorrupt
	}
	return data, nil
}

// Write stores data under key. The payload is written to a temporary file and renamed into place,
// so readers see either the old payload or the new one.
func (c *Cache) Write(ctx context.Context, key cache_key.Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := c.writeFile(key, data); err != nil {
		metrics.CacheErrors.With(prometheus.Labels{"cache": metricsLabel, "operation": "write"}).Inc()
		return common.CacheIOError(err)
	}

	size := int64(len(data) + sha256.Size)
	now := c.now()
	c.mu.Lock()
	if old, ok := c.index[key]; ok {
		c.total -= old.size
	}
	c.index[key] = &indexEntry{size: size, writtenAt: now, lastAccess: now}
	c.total += size
	over := c.maxSize > 0 && c.total > c.maxSize
	c.mu.Unlock()

	if over {
		c.evictInBackground()
	}
	return nil
}

func (c *Cache) writeFile(key cache_key.Key, data []byte) error {
	c.fsMu.Lock()
	err := c.fs.MkdirAll(key.Shard(), 0o755)
	var tmp billy.File
	if err == nil {
		tmp, err = c.fs.TempFile(tempDirName, "write_")
		if err != nil {
			err = errors.Wrap(err, "failed to create temp file")
		}
	} else {
		err = errors.Wrap(err, "failed to create shard directory")
	}
	c.fsMu.Unlock()
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	cleanup := func() {
		c.fsMu.Lock()
		_ = c.fs.Remove(tmpName)
		c.fsMu.Unlock()
	}

	sum := sha256.Sum256(data)
	if _, err = tmp.Write(data); err == nil {
		_, err = tmp.Write(sum[:])
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return errors.Wrap(err, "failed to write temp file")
	}

	c.fsMu.Lock()
	defer c.fsMu.Unlock()
	if err = c.fs.Rename(tmpName, pathFor(key)); err != nil {
		_ = c.fs.Remove(tmpName)
		return errors.Wrap(err, "failed to move temp file into place")
	}

	if ch, ok := c.fs.(billy.Change); ok {
		now := c.now()
		_ = ch.Chtimes(pathFor(key), now, now)
	}
	return nil
}

// Delete removes the entry for key. A missing entry is not an error.
func (c *Cache) Delete(ctx context.Context, key cache_key.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return c.removeLocked(key, "invalidated")
}

// removeLocked deletes the file and index entry. The caller holds the key's lock.
func (c *Cache) removeLocked(key cache_key.Key, reason string) error {
	c.fsMu.Lock()
	err := c.fs.Remove(pathFor(key))
	c.fsMu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		metrics.CacheErrors.With(prometheus.Labels{"cache": metricsLabel, "operation": "delete"}).Inc()
		return common.CacheIOError(errors.Wrap(err, "failed to remove cache file"))
	}
	if c.forget(key) {
		metrics.CacheEvictions.With(prometheus.Labels{"cache": metricsLabel, "reason": reason}).Inc()
	}
	return nil
}

func (c *Cache) forget(key cache_key.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ie, ok := c.index[key]
	if ok {
		c.total -= ie.size
		delete(c.index, key)
	}
	return ok
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]cache_key.Key, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := c.Delete(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type candidate struct {
	key        cache_key.Key
	size       int64
	writtenAt  time.Time
	lastAccess time.Time
}

// EvictExpired removes entries older than the max age, then the least recently accessed entries
// until the cache fits its size budget. It returns how many entries were removed.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	maxSize := c.maxSize
	maxAge := c.maxAge
	candidates := make([]candidate, 0, len(c.index))
	for k, ie := range c.index {
		candidates = append(candidates, candidate{key: k, size: ie.size, writtenAt: ie.writtenAt, lastAccess: ie.lastAccess})
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	removed := 0
	var firstErr error
	evict := func(k cache_key.Key, reason string) {
		lock := c.lockFor(k)
		lock.Lock()
		defer lock.Unlock()
		if err := c.removeLocked(k, reason); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		removed++
	}

	now := c.now()
	remaining := candidates[:0]
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if maxAge > 0 && now.Sub(cand.writtenAt) > maxAge {
			evict(cand.key, "expired")
			continue
		}
		remaining = append(remaining, cand)
	}

	for _, cand := range remaining {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if maxSize <= 0 || c.Size() <= maxSize {
			break
		}
		evict(cand.key, "size")
	}

	if removed > 0 {
		c.log.Infof("Evicted %d disk cache entries, %s remaining", removed, humanize.Bytes(uint64(c.Size())))
	}
	return removed, firstErr
}

func (c *Cache) evictInBackground() {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	c.evictWg.Add(1)
	go func() {
		defer c.evictWg.Done()
		defer c.evicting.Store(false)
		if _, err := c.EvictExpired(context.Background()); err != nil {
			c.log.Warn("Error during background disk cache eviction: ", err)
		}
	}()
}

// WaitForEviction blocks until any background eviction has finished.
func (c *Cache) WaitForEviction() {
	c.evictWg.Wait()
}

func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Reconfigure changes the limits used by later evictions.
func (c *Cache) Reconfigure(maxSizeBytes int64, maxAge time.Duration) {
	c.mu.Lock()
	c.maxSize = maxSizeBytes
	c.maxAge = maxAge
	c.mu.Unlock()
}

func (c *Cache) RefreshMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.CacheNumItems.With(prometheus.Labels{"cache": metricsLabel}).Set(float64(len(c.index)))
	metrics.CacheNumBytes.With(prometheus.Labels{"cache": metricsLabel}).Set(float64(c.total))
}

func (c *Cache) Close() error {
	c.WaitForEviction()
	return nil
}
