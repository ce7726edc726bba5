package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/disk_cache"
	"github.com/t2bot/image-loader/redis_cache"
)

// ByteCache is the persistent tier holding source bytes. disk_cache and redis_cache both fit.
type ByteCache interface {
	Read(ctx context.Context, key cache_key.Key) ([]byte, bool, error)
	Write(ctx context.Context, key cache_key.Key, data []byte) error
	Delete(ctx context.Context, key cache_key.Key) error
	Clear(ctx context.Context) error
	EvictExpired(ctx context.Context) (int, error)
	Reconfigure(maxSizeBytes int64, maxAge time.Duration)
	RefreshMetrics()
	Close() error
}

// NewByteCache builds the tier named by diskCache.type. A disabled cache is returned as nil.
func NewByteCache(ctx context.Context, cfg *config.MainConfig, log *logrus.Entry) (ByteCache, error) {
	dc := cfg.DiskCache
	if !dc.Enabled {
		return nil, nil
	}

	switch dc.Type {
	case "file":
		c, err := disk_cache.New(osfs.New(dc.Path), dc.MaxSizeBytes, dc.MaxAge(), log.WithField("cache", "disk"))
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory":
		c, err := disk_cache.New(memfs.New(), dc.MaxSizeBytes, dc.MaxAge(), log.WithField("cache", "disk"))
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		c, err := redis_cache.NewCache(ctx, cfg.Redis, dc.MaxAge(), log.WithField("cache", "redis"))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown disk cache type %q", dc.Type)
}
