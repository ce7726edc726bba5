package errcache

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrCache remembers recent failures for a short time so a dead source is not retried on every
// request. An expiration of zero disables it.
type ErrCache struct {
	cache      *cache.Cache
	expiration time.Duration
	mu         sync.Mutex
}

func NewErrCache(expiration time.Duration) *ErrCache {
	return &ErrCache{cache: cache.New(expiration, cleanupInterval(expiration)), expiration: expiration}
}

// NewSourceErrCache builds the failure memo from the configured minutes.
func NewSourceErrCache(failureCacheMinutes int) *ErrCache {
	return NewErrCache(time.Duration(failureCacheMinutes) * time.Minute)
}

func cleanupInterval(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return time.Minute
	}
	return expiration * 2
}

func (e *ErrCache) Resize(expiration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if expiration <= 0 {
		e.cache.Flush()
	}
	e.cache = cache.NewFrom(expiration, cleanupInterval(expiration), e.cache.Items())
	e.expiration = expiration
}

func (e *ErrCache) Get(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expiration <= 0 {
		return nil
	}
	if err, ok := e.cache.Get(key); ok {
		return err.(error)
	}
	return nil
}

func (e *ErrCache) Set(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expiration <= 0 || err == nil {
		return
	}
	e.cache.Set(key, err, cache.DefaultExpiration)
}

func (e *ErrCache) Delete(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Delete(key)
}

func (e *ErrCache) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Flush()
}
