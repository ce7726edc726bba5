package memory_cache

import (
	"image"
	"sync"

	"github.com/t2bot/image-loader/cache_key"
)

// Handle is a counted reference to a cached image. Release is safe to call more than once.
type Handle struct {
	c    *Cache
	e    *entry
	once sync.Once
}

func (h *Handle) Image() image.Image {
	return h.e.img
}

func (h *Handle) Key() cache_key.Key {
	return h.e.key
}

func (h *Handle) Size() int64 {
	return h.e.size
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.c.release(h.e)
	})
}
