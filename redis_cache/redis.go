package redis_cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/metrics"
)

const metricsLabel = "redis"

// Cache keeps source payloads in Redis instead of on local disk, letting several processes share
// one byte tier. Expiry is left to Redis through the key TTL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    atomic.Int64 // time.Duration
	log    *logrus.Entry
}

func NewCache(ctx context.Context, conf config.RedisConfig, maxAge time.Duration, log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = logrus.WithField("cache", metricsLabel)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        conf.Address,
		Password:    conf.Password,
		DB:          conf.DbNum,
		DialTimeout: 10 * time.Second,
	})

	log.Infof("Pinging %s", client.String())
	r, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	log.Infof("%s replied with: %s", client.String(), r)

	return newWithClient(client, conf.KeyPrefix, maxAge, log), nil
}

func newWithClient(client *redis.Client, prefix string, maxAge time.Duration, log *logrus.Entry) *Cache {
	c := &Cache{client: client, prefix: prefix, log: log}
	c.ttl.Store(int64(maxAge))
	return c
}

func (c *Cache) redisKey(key cache_key.Key) string {
	return c.prefix + key.String()
}

func (c *Cache) Read(ctx context.Context, key cache_key.Key) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		metrics.CacheMisses.With(prometheus.Labels{"cache": metricsLabel}).Inc()
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.CacheErrors.With(prometheus.Labels{"cache": metricsLabel, "operation": "read"}).Inc()
		return nil, false, common.CacheIOError(err)
	}
	metrics.CacheHits.With(prometheus.Labels{"cache": metricsLabel}).Inc()
	return b, true, nil
}

func (c *Cache) Write(ctx context.Context, key cache_key.Key, data []byte) error {
	// a zero ttl means no expiration
	if err := c.client.Set(ctx, c.redisKey(key), data, time.Duration(c.ttl.Load())).Err(); err != nil {
		metrics.CacheErrors.With(prometheus.Labels{"cache": metricsLabel, "operation": "write"}).Inc()
		return common.CacheIOError(err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key cache_key.Key) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return common.CacheIOError(err)
	}
	return nil
}

// Clear removes every key under the configured prefix.
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.client.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return common.CacheIOError(err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return common.CacheIOError(err)
	}
	if err := flush(); err != nil {
		return common.CacheIOError(err)
	}
	c.log.Info("Redis cache cleared")
	return nil
}

// EvictExpired is a no-op: Redis expires keys itself.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (c *Cache) Reconfigure(maxSizeBytes int64, maxAge time.Duration) {
	// Redis enforces its own memory policy, only the ttl applies to later writes
	c.ttl.Store(int64(maxAge))
}

func (c *Cache) RefreshMetrics() {
}

func (c *Cache) Close() error {
	return c.client.Close()
}
