package loader

import (
	"context"
	"image"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/bindings"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/dispatch"
	"github.com/t2bot/image-loader/errcache"
	"github.com/t2bot/image-loader/memory_cache"
	"github.com/t2bot/image-loader/metrics"
	"github.com/t2bot/image-loader/pool"
	"github.com/t2bot/image-loader/scheduler"
	"github.com/t2bot/image-loader/sources"
	"github.com/t2bot/image-loader/thumbnailing"
	"golang.org/x/sync/semaphore"
)

// Decoder turns source bytes into an image no larger than width x height physical pixels.
type Decoder interface {
	Decode(ctx context.Context, data []byte, width int, height int) (image.Image, error)
}

type Options struct {
	Config *config.MainConfig

	// Dispatcher runs every target and listener callback. Defaults to dispatch.Immediate.
	Dispatcher dispatch.Dispatcher

	// Sources defaults to a sources.Factory built from the config.
	Sources sources.Resolver

	// Decoder defaults to a thumbnailing.Decoder built from the config.
	Decoder Decoder

	// ByteCache defaults to the tier described by the diskCache config. Set DisableByteCache to
	// run without one.
	ByteCache        ByteCache
	DisableByteCache bool

	Log *logrus.Entry
}

type fetchLimiter struct {
	sem  *semaphore.Weighted
	size int
}

// Service loads images into targets. Build one with New and Close it when done.
type Service struct {
	conf atomic.Pointer[config.MainConfig]

	memory     *memory_cache.Cache
	bytes      ByteCache
	sources    sources.Resolver
	decoder    Decoder
	sched      *scheduler.Scheduler[*decoded]
	cpu        *pool.Queue
	fetches    atomic.Pointer[fetchLimiter]
	failures   *errcache.ErrCache
	registry   *bindings.Registry
	dispatcher dispatch.Dispatcher
	log        *logrus.Entry

	closed atomic.Bool
}

func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "loader")
	}

	s := &Service{
		memory:     memory_cache.New(cfg.MemoryCache.MaxSizeBytes, log.WithField("cache", "memory")),
		sources:    opts.Sources,
		decoder:    opts.Decoder,
		bytes:      opts.ByteCache,
		sched:      scheduler.New[*decoded](cfg.Workers.Loads(), log.WithField("component", "scheduler")),
		failures:   errcache.NewSourceErrCache(cfg.Downloads.FailureCacheMinutes),
		registry:   bindings.NewRegistry(log.WithField("component", "bindings")),
		dispatcher: opts.Dispatcher,
		log:        log,
	}
	s.conf.Store(cfg)
	s.fetches.Store(&fetchLimiter{sem: semaphore.NewWeighted(int64(cfg.Workers.Fetches())), size: cfg.Workers.Fetches()})

	if s.dispatcher == nil {
		s.dispatcher = dispatch.Immediate{}
	}
	if s.decoder == nil {
		s.decoder = thumbnailing.NewDecoder(cfg.Thumbnails)
	}
	if s.sources == nil {
		f, err := sources.NewFactory(cfg.Sources, log)
		if err != nil {
			s.sched.Close()
			return nil, err
		}
		s.sources = f
	}
	if s.bytes == nil && !opts.DisableByteCache {
		bc, err := NewByteCache(ctx, cfg, log)
		if err != nil {
			s.sched.Close()
			return nil, errors.Wrap(err, "error setting up byte cache")
		}
		s.bytes = bc
	}

	cpu, err := pool.NewQueue(cfg.Workers.Workers(), "decode")
	if err != nil {
		s.sched.Close()
		return nil, errors.Wrap(err, "error creating decode pool")
	}
	s.cpu = cpu

	log.Infof("Image loader started with %d decode workers, %d concurrent loads and %d concurrent fetches",
		cfg.Workers.Workers(), cfg.Workers.Loads(), cfg.Workers.Fetches())
	return s, nil
}

func (s *Service) Config() *config.MainConfig {
	return s.conf.Load()
}

func (s *Service) Memory() *memory_cache.Cache {
	return s.memory
}

// ByteCache returns the persistent tier, or nil when it is disabled.
func (s *Service) ByteCache() ByteCache {
	return s.bytes
}

func (s *Service) Registry() *bindings.Registry {
	return s.registry
}

func (s *Service) SchedulerStats() scheduler.Stats {
	return s.sched.Stats()
}

// NewTarget registers a display surface. Keep the handle for as long as the target is alive.
func (s *Service) NewTarget(target bindings.Target) *bindings.Handle {
	return s.registry.NewHandle(target)
}

func (s *Service) newTask(req Request, key cache_key.Key, priority scheduler.Priority, h *bindings.Handle) *Task {
	id := uuid.NewString()
	t := &Task{
		id:       id,
		key:      key,
		req:      req,
		priority: priority,
		svc:      s,
		headless: h == nil,
		done:     make(chan struct{}),
		log: s.log.WithFields(logrus.Fields{
			"task_id": id,
			"key":     key.String(),
			"source":  req.Source,
		}),
	}
	if h != nil {
		t.target = weak.Make(h)
	}
	return t
}

// LoadInto binds a new task to the target and starts loading. Any task previously bound to the
// target is cancelled. Images already in memory are delivered without scheduling any work.
func (s *Service) LoadInto(h *bindings.Handle, req Request, priority scheduler.Priority) *Task {
	key := req.Key()
	t := s.newTask(req, key, priority, h)

	if mh, ok := s.memory.Get(key); ok {
		s.registry.Bind(h, t)
		t.log.Debug("Memory cache hit")
		t.succeed(mh)
		return t
	}

	s.registry.Bind(h, t)
	s.start(t)
	return t
}

// Load fetches an image without a target, for prefetching or headless use. The image is left in
// the memory cache.
func (s *Service) Load(ctx context.Context, req Request, priority scheduler.Priority) (image.Image, error) {
	key := req.Key()
	if mh, ok := s.memory.Get(key); ok {
		img := mh.Image()
		mh.Release()
		return img, nil
	}

	t := s.newTask(req, key, priority, nil)
	s.start(t)
	if err := t.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			t.Cancel()
		}
		return nil, err
	}
	return t.img, nil
}

func (s *Service) start(t *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateQueued)) {
		// cancelled before it could be queued
		return
	}

	timeout := t.req.Timeout
	if timeout <= 0 {
		timeout = s.conf.Load().Workers.Timeout()
	}

	t.ticket = s.sched.Enqueue(scheduler.Request[*decoded]{
		Key:      t.key,
		Priority: t.priority,
		Work:     s.jobFor(t),
		Timeout:  timeout,
		OnStart:  t.markRunning,
		OnDone:   t.onDone,
	})
	if t.ticket.Deduplicated() {
		t.log.Debug("Joined an existing job")
	}
}

// Cancel stops whatever the target is loading. The image it shows stays.
func (s *Service) Cancel(h *bindings.Handle) bool {
	return s.registry.Unbind(h)
}

// ReleaseTarget tears down the target's binding and lets go of its displayed image.
func (s *Service) ReleaseTarget(h *bindings.Handle) {
	s.registry.Release(h)
}

// InvalidateCache drops one key from both tiers. Images currently displayed stay valid until
// their targets move on.
func (s *Service) InvalidateCache(ctx context.Context, key cache_key.Key) error {
	s.memory.Invalidate(key)
	if s.bytes != nil {
		if err := s.bytes.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll empties both tiers and forgets remembered source failures.
func (s *Service) InvalidateAll(ctx context.Context) error {
	s.memory.Clear()
	s.failures.Flush()
	if s.bytes != nil {
		if err := s.bytes.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EvictExpired removes expired and over-budget entries from the byte tier.
func (s *Service) EvictExpired(ctx context.Context) (int, error) {
	if s.bytes == nil {
		return 0, nil
	}
	return s.bytes.EvictExpired(ctx)
}

// RefreshMetrics publishes the cache and queue gauges.
func (s *Service) RefreshMetrics() {
	s.memory.RefreshMetrics()
	s.cpu.RefreshMetrics()
	if s.bytes != nil {
		s.bytes.RefreshMetrics()
	}
}

// Reconfigure applies a new config to the running service. Sources and the byte cache type are
// only read at startup.
func (s *Service) Reconfigure(cfg *config.MainConfig) {
	if s.closed.Load() {
		return
	}
	old := s.conf.Swap(cfg)

	s.sched.SetLimit(cfg.Workers.Loads())
	s.cpu.Tune(cfg.Workers.Workers())
	if fetches := cfg.Workers.Fetches(); fetches != s.fetches.Load().size {
		s.fetches.Store(&fetchLimiter{sem: semaphore.NewWeighted(int64(fetches)), size: fetches})
	}
	s.memory.SetBudget(cfg.MemoryCache.MaxSizeBytes)
	if s.bytes != nil {
		s.bytes.Reconfigure(cfg.DiskCache.MaxSizeBytes, cfg.DiskCache.MaxAge())
	}
	s.failures.Resize(time.Duration(cfg.Downloads.FailureCacheMinutes) * time.Minute)
	if r, ok := s.decoder.(interface {
		Reconfigure(conf config.ThumbnailsConfig)
	}); ok {
		r.Reconfigure(cfg.Thumbnails)
	}

	if old != nil && (old.DiskCache.Type != cfg.DiskCache.Type || old.DiskCache.Enabled != cfg.DiskCache.Enabled) {
		s.log.Warn("Disk cache type changes take effect after a restart")
	}
	s.log.Info("Configuration applied")
}

// Close cancels outstanding work and releases the service's resources. Targets stop receiving
// callbacks. The dispatcher is left to the caller.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.sched.Close()
	s.cpu.Release()
	s.memory.Clear()
	metrics.QueueDepth.With(prometheus.Labels{"queue": "decode"}).Set(0)
	if s.bytes != nil {
		if err := s.bytes.Close(); err != nil {
			return common.CacheIOError(err)
		}
	}
	return nil
}
