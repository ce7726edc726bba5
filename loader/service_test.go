package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/t2bot/image-loader/bindings"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/disk_cache"
	"github.com/t2bot/image-loader/dispatch"
	"github.com/t2bot/image-loader/memory_cache"
	"github.com/t2bot/image-loader/pool"
	"github.com/t2bot/image-loader/scheduler"
	"github.com/t2bot/image-loader/thumbnailing"
	"github.com/t2bot/image-loader/transforms"
)

func pngOf(t *testing.T, w int, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 10, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

type fakeSource struct {
	mu      sync.Mutex
	data    map[string][]byte
	errs    map[string]error
	gates   map[string]chan struct{}
	started map[string]chan struct{}
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:    make(map[string][]byte),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(map[string]chan struct{}),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) startedChan(source string) chan struct{} {
	ch, ok := f.started[source]
	if !ok {
		ch = make(chan struct{})
		f.started[source] = ch
	}
	return ch
}

// gate holds fetches of source until the returned func is called.
func (f *fakeSource) gate(source string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[source] = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeSource) waitStarted(t *testing.T, source string) {
	f.mu.Lock()
	ch := f.startedChan(source)
	f.mu.Unlock()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "fetch never started", source)
	}
}

func (f *fakeSource) Calls(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

func (f *fakeSource) Resolve(ctx context.Context, source string) ([]byte, error) {
	f.mu.Lock()
	f.calls[source]++
	if f.calls[source] == 1 {
		close(f.startedChan(source))
	}
	gate := f.gates[source]
	data := f.data[source]
	err := f.errs[source]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	if err != nil {
		return nil, common.SourceUnavailable(err)
	}
	if data == nil {
		return nil, common.SourceUnavailable(errors.New("not found"))
	}
	return data, nil
}

type countingDecoder struct {
	inner Decoder
	calls atomic.Int32
}

func (d *countingDecoder) Decode(ctx context.Context, data []byte, width int, height int) (image.Image, error) {
	d.calls.Add(1)
	return d.inner.Decode(ctx, data, width, height)
}

type panickingDecoder struct{}

func (panickingDecoder) Decode(ctx context.Context, data []byte, width int, height int) (image.Image, error) {
	var img *image.RGBA
	_ = img.Bounds()
	return img, nil
}

type emptyDecoder struct{}

func (emptyDecoder) Decode(ctx context.Context, data []byte, width int, height int) (image.Image, error) {
	return nil, nil
}

type panickingTransform struct{}

func (panickingTransform) Key() string {
	return "explode"
}

func (panickingTransform) Transform(img image.Image) (image.Image, error) {
	panic("transform exploded")
}

// mapBytes is an in-memory byte tier that can be told to fail writes.
type mapBytes struct {
	mu         sync.Mutex
	data       map[cache_key.Key][]byte
	failWrites bool
	writes     int
	deletes    int
}

func newMapBytes() *mapBytes {
	return &mapBytes{data: make(map[cache_key.Key][]byte)}
}

func (m *mapBytes) Read(ctx context.Context, key cache_key.Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *mapBytes) Write(ctx context.Context, key cache_key.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWrites {
		return common.CacheIOError(errors.New("disk full"))
	}
	m.data[key] = data
	return nil
}

func (m *mapBytes) Delete(ctx context.Context, key cache_key.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, key)
	return nil
}

func (m *mapBytes) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[cache_key.Key][]byte)
	return nil
}

func (m *mapBytes) EvictExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (m *mapBytes) Reconfigure(maxSizeBytes int64, maxAge time.Duration) {}

func (m *mapBytes) RefreshMetrics() {}

func (m *mapBytes) Close() error {
	return nil
}

type recordingTarget struct {
	mu     sync.Mutex
	images []image.Image
	errs   []error
}

func (r *recordingTarget) SetImage(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, img)
}

func (r *recordingTarget) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingTarget) Images() []image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Image(nil), r.images...)
}

func (r *recordingTarget) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type LoaderSuite struct {
	suite.Suite
	cfg   *config.MainConfig
	src   *fakeSource
	dec   *countingDecoder
	bytes ByteCache
	loop  *dispatch.Loop
	svc   *Service

	// handles are only weakly referenced by tasks; hold them until the test ends
	handles []*bindings.Handle
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderSuite))
}

func (s *LoaderSuite) SetupTest() {
	s.cfg = config.NewDefaultConfig()
	s.cfg.Workers.NumWorkers = 2
	s.cfg.Workers.MaxConcurrentLoads = 4
	s.cfg.Workers.MaxConcurrentFetches = 4
	s.cfg.Workers.TimeoutSeconds = 10
	s.cfg.DiskCache.Enabled = false

	s.src = newFakeSource()
	s.dec = &countingDecoder{inner: thumbnailing.NewDecoder(s.cfg.Thumbnails)}
	dc, err := disk_cache.New(memfs.New(), 0, 0, nil)
	s.Require().NoError(err)
	s.bytes = dc
	s.loop = dispatch.NewLoop()
	s.svc = s.newService()
}

func (s *LoaderSuite) TearDownTest() {
	s.Require().NoError(s.svc.Close())
	s.loop.Close()
	s.handles = nil
}

func (s *LoaderSuite) newTarget(target bindings.Target) *bindings.Handle {
	h := s.svc.NewTarget(target)
	s.handles = append(s.handles, h)
	return h
}

func (s *LoaderSuite) newService() *Service {
	svc, err := New(context.Background(), Options{
		Config:     s.cfg,
		Dispatcher: s.loop,
		Sources:    s.src,
		Decoder:    s.dec,
		ByteCache:  s.bytes,
	})
	s.Require().NoError(err)
	return svc
}

// replaceService rebuilds the service after the test changed the config or collaborators.
func (s *LoaderSuite) replaceService() {
	s.Require().NoError(s.svc.Close())
	s.svc = s.newService()
}

// wait blocks until the task finishes and anything it dispatched has run.
func (s *LoaderSuite) wait(t *Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.Wait(ctx)
	s.Require().NotErrorIs(err, context.DeadlineExceeded, "task did not finish")
	s.loop.Sync()
	return err
}

func (s *LoaderSuite) TestLoadIntoDelivers() {
	s.src.data["https://example.org/a.png"] = pngOf(s.T(), 40, 20)
	target := &recordingTarget{}
	h := s.newTarget(target)

	var heard atomic.Int32
	task := s.svc.LoadInto(h, Request{
		Source: "https://example.org/a.png",
		Listener: func(t *Task, err error) {
			assert.NoError(s.T(), err)
			heard.Add(1)
		},
	}, scheduler.PriorityVisible)

	s.Require().NoError(s.wait(task))
	s.Equal(StateCompleted, task.State())
	s.Require().Len(target.Images(), 1)
	s.Equal(40, target.Images()[0].Bounds().Dx())
	s.Empty(target.Errors())
	s.Equal(int32(1), heard.Load())
	s.True(s.svc.Memory().Contains(task.Key()))
	s.Same(h, task.Target())
	s.NotEmpty(task.Id())
}

func (s *LoaderSuite) TestMemoryHitSkipsScheduling() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	target := &recordingTarget{}
	h := s.newTarget(target)

	s.Require().NoError(s.wait(s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)))

	task := s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)
	s.Equal(StateCompleted, task.State(), "memory hits complete synchronously")
	s.Require().NoError(s.wait(task))
	s.Len(target.Images(), 2)
	s.Equal(1, s.src.Calls("a"))
	s.Equal(int32(1), s.dec.calls.Load())
}

func (s *LoaderSuite) TestLastBindWins() {
	s.src.data["slow"] = pngOf(s.T(), 40, 20)
	s.src.data["fast"] = pngOf(s.T(), 10, 10)
	release := s.src.gate("slow")
	defer release()

	target := &recordingTarget{}
	h := s.newTarget(target)

	a := s.svc.LoadInto(h, Request{Source: "slow"}, scheduler.PriorityVisible)
	s.src.waitStarted(s.T(), "slow")
	b := s.svc.LoadInto(h, Request{Source: "fast"}, scheduler.PriorityVisible)

	s.Equal(StateCancelled, a.State())
	s.Require().NoError(s.wait(b))
	release()
	s.ErrorIs(s.wait(a), common.ErrCancelled)

	images := target.Images()
	s.Require().Len(images, 1)
	s.Equal(10, images[0].Bounds().Dx())
	s.Empty(target.Errors())
	s.Same(b, s.svc.Registry().Current(h))
}

func (s *LoaderSuite) TestRebindWhileFirstIsStillQueued() {
	s.cfg.Workers.MaxConcurrentLoads = 1
	s.replaceService()

	s.src.data["blocker"] = pngOf(s.T(), 4, 4)
	s.src.data["k1"] = pngOf(s.T(), 30, 30)
	s.src.data["k2"] = pngOf(s.T(), 12, 12)
	release := s.src.gate("blocker")
	defer release()

	blockerTarget := &recordingTarget{}
	blocker := s.svc.LoadInto(s.newTarget(blockerTarget), Request{Source: "blocker"}, scheduler.PriorityVisible)
	s.src.waitStarted(s.T(), "blocker")

	target := &recordingTarget{}
	h := s.newTarget(target)
	a := s.svc.LoadInto(h, Request{Source: "k1"}, scheduler.PriorityVisible)
	s.Equal(StateQueued, a.State())
	b := s.svc.LoadInto(h, Request{Source: "k2"}, scheduler.PriorityVisible)
	s.Equal(StateCancelled, a.State())

	release()
	s.Require().NoError(s.wait(blocker))
	s.Require().NoError(s.wait(b))

	s.Equal(0, s.src.Calls("k1"), "a cancelled queued task never fetches")
	s.Require().Len(target.Images(), 1)
	s.Equal(12, target.Images()[0].Bounds().Dx())
}

func (s *LoaderSuite) TestDeduplicatesSharedWork() {
	s.src.data["shared"] = pngOf(s.T(), 16, 16)
	release := s.src.gate("shared")

	t1 := &recordingTarget{}
	t2 := &recordingTarget{}
	a := s.svc.LoadInto(s.newTarget(t1), Request{Source: "shared"}, scheduler.PriorityNormal)
	s.src.waitStarted(s.T(), "shared")
	b := s.svc.LoadInto(s.newTarget(t2), Request{Source: "shared"}, scheduler.PriorityVisible)
	release()

	s.Require().NoError(s.wait(a))
	s.Require().NoError(s.wait(b))
	s.Equal(1, s.src.Calls("shared"))
	s.Equal(int32(1), s.dec.calls.Load())
	s.Require().Len(t1.Images(), 1)
	s.Require().Len(t2.Images(), 1)
	s.Same(t1.Images()[0], t2.Images()[0])
}

func (s *LoaderSuite) TestTwoRequestsBeforeAWorkerIsFree() {
	s.cfg.Workers.MaxConcurrentLoads = 1
	s.replaceService()

	s.src.data["blocker"] = pngOf(s.T(), 4, 4)
	s.src.data["x"] = pngOf(s.T(), 8, 8)
	release := s.src.gate("blocker")
	defer release()

	blocker := s.svc.LoadInto(s.newTarget(&recordingTarget{}), Request{Source: "blocker"}, scheduler.PriorityVisible)
	s.src.waitStarted(s.T(), "blocker")

	t1 := &recordingTarget{}
	t2 := &recordingTarget{}
	a := s.svc.LoadInto(s.newTarget(t1), Request{Source: "x"}, scheduler.PriorityNormal)
	b := s.svc.LoadInto(s.newTarget(t2), Request{Source: "x"}, scheduler.PriorityNormal)

	stats := s.svc.SchedulerStats()
	s.Equal(1, stats.Queued)
	s.Equal(1, stats.Running)

	release()
	s.Require().NoError(s.wait(blocker))
	s.Require().NoError(s.wait(a))
	s.Require().NoError(s.wait(b))
	s.Equal(1, s.src.Calls("x"))
	s.Len(t1.Images(), 1)
	s.Len(t2.Images(), 1)
}

func (s *LoaderSuite) TestByteCacheRoundTrip() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	h := s.newTarget(&recordingTarget{})

	first := s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)
	s.Require().NoError(s.wait(first))

	data, ok, err := s.bytes.Read(context.Background(), first.Key())
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(s.src.data["a"], data)

	s.svc.Memory().Clear()
	s.Require().NoError(s.wait(s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)))
	s.Equal(1, s.src.Calls("a"), "second load is served from the byte cache")
	s.Equal(int32(2), s.dec.calls.Load())
}

func (s *LoaderSuite) TestByteCacheWriteFailureStillLoads() {
	mb := newMapBytes()
	mb.failWrites = true
	s.bytes = mb
	s.replaceService()

	s.src.data["a"] = pngOf(s.T(), 8, 8)
	target := &recordingTarget{}
	task := s.svc.LoadInto(s.newTarget(target), Request{Source: "a"}, scheduler.PriorityNormal)

	s.Require().NoError(s.wait(task))
	s.Len(target.Images(), 1)
	s.True(s.svc.Memory().Contains(task.Key()))
	s.Equal(1, mb.writes)
}

func (s *LoaderSuite) TestCorruptCachedBytesAreRefetched() {
	mb := newMapBytes()
	s.bytes = mb
	s.replaceService()

	s.src.data["a"] = pngOf(s.T(), 8, 8)
	req := Request{Source: "a"}
	mb.data[req.Key()] = []byte("this is not an image")

	target := &recordingTarget{}
	s.Require().NoError(s.wait(s.svc.LoadInto(s.newTarget(target), req, scheduler.PriorityNormal)))
	s.Len(target.Images(), 1)
	s.Equal(1, s.src.Calls("a"))
	s.Equal(1, mb.deletes)
	s.Equal(s.src.data["a"], mb.data[req.Key()])
}

func (s *LoaderSuite) TestSourceFailureIsReportedAndRemembered() {
	s.src.errs["dead"] = errors.New("connection refused")
	target := &recordingTarget{}
	h := s.newTarget(target)

	var heard atomic.Int32
	task := s.svc.LoadInto(h, Request{
		Source: "dead",
		Listener: func(t *Task, err error) {
			assert.ErrorIs(s.T(), err, common.ErrSourceUnavailable)
			heard.Add(1)
		},
	}, scheduler.PriorityNormal)

	s.ErrorIs(s.wait(task), common.ErrSourceUnavailable)
	s.Equal(StateFailed, task.State())
	s.Require().Len(target.Errors(), 1)
	s.ErrorIs(target.Errors()[0], common.ErrSourceUnavailable)
	s.Equal(int32(1), heard.Load())

	again := s.svc.LoadInto(h, Request{Source: "dead"}, scheduler.PriorityNormal)
	s.ErrorIs(s.wait(again), common.ErrSourceUnavailable)
	s.Equal(1, s.src.Calls("dead"), "recent failures are not retried")

	s.Require().NoError(s.svc.InvalidateAll(context.Background()))
	s.ErrorIs(s.wait(s.svc.LoadInto(h, Request{Source: "dead"}, scheduler.PriorityNormal)), common.ErrSourceUnavailable)
	s.Equal(2, s.src.Calls("dead"))
}

func (s *LoaderSuite) TestDecodeFailure() {
	s.src.data["garbage"] = []byte("definitely not an image")
	target := &recordingTarget{}

	task := s.svc.LoadInto(s.newTarget(target), Request{Source: "garbage"}, scheduler.PriorityNormal)
	s.ErrorIs(s.wait(task), common.ErrDecode)
	s.Equal(StateFailed, task.State())
	s.Require().Len(target.Errors(), 1)
	s.Empty(target.Images())
}

func (s *LoaderSuite) TestDecoderPanicFailsAsDecodeError() {
	s.dec.inner = panickingDecoder{}
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	target := &recordingTarget{}
	h := s.newTarget(target)

	first := s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)
	err := s.wait(first)
	s.ErrorIs(err, common.ErrDecode)
	s.ErrorIs(err, pool.ErrPanic)
	s.Equal(StateFailed, first.State())
	s.False(s.svc.Memory().Contains(first.Key()))
	s.Equal(0, s.svc.Memory().Len())

	// nothing was cached, so the next load decodes again and fails the same way
	second := s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)
	s.ErrorIs(s.wait(second), common.ErrDecode)
	s.Equal(StateFailed, second.State())
	s.Empty(target.Images())
	s.Len(target.Errors(), 2)
	s.Equal(int32(3), s.dec.calls.Load(), "the cached bytes are retried once from the source")
}

func (s *LoaderSuite) TestDecoderWithoutImageFailsAsDecodeError() {
	s.dec.inner = emptyDecoder{}
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	target := &recordingTarget{}

	task := s.svc.LoadInto(s.newTarget(target), Request{Source: "a"}, scheduler.PriorityNormal)
	s.ErrorIs(s.wait(task), common.ErrDecode)
	s.Equal(0, s.svc.Memory().Len())
	s.Empty(target.Images())
}

func (s *LoaderSuite) TestTransformPanicFailsAsDecodeError() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	target := &recordingTarget{}
	req := Request{Source: "a", Transforms: []transforms.Transformation{panickingTransform{}}}

	task := s.svc.LoadInto(s.newTarget(target), req, scheduler.PriorityNormal)
	err := s.wait(task)
	s.ErrorIs(err, common.ErrDecode)
	s.Contains(err.Error(), "transform exploded")
	s.Equal(0, s.svc.Memory().Len())
	s.Empty(target.Images())

	// the queue survives the panic
	s.Require().NoError(s.wait(s.svc.LoadInto(s.newTarget(&recordingTarget{}), Request{Source: "a"}, scheduler.PriorityNormal)))
}

func (s *LoaderSuite) TestTimeout() {
	s.src.data["stuck"] = pngOf(s.T(), 8, 8)
	release := s.src.gate("stuck")
	defer release()
	target := &recordingTarget{}

	task := s.svc.LoadInto(s.newTarget(target), Request{Source: "stuck", Timeout: 50 * time.Millisecond}, scheduler.PriorityNormal)
	err := s.wait(task)
	s.ErrorIs(err, common.ErrTimeout)
	s.NotErrorIs(err, common.ErrCancelled)
	s.Equal(StateFailed, task.State())
	s.Require().Len(target.Errors(), 1)
	s.ErrorIs(target.Errors()[0], common.ErrTimeout)
}

func (s *LoaderSuite) TestCancelIsSilent() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	release := s.src.gate("a")
	defer release()
	target := &recordingTarget{}
	h := s.newTarget(target)

	var heard atomic.Int32
	task := s.svc.LoadInto(h, Request{
		Source:   "a",
		Listener: func(t *Task, err error) { heard.Add(1) },
	}, scheduler.PriorityNormal)
	s.src.waitStarted(s.T(), "a")

	s.True(s.svc.Cancel(h))
	s.ErrorIs(s.wait(task), common.ErrCancelled)
	release()
	s.loop.Sync()

	s.Equal(StateCancelled, task.State())
	s.False(task.Cancel(), "cancelling twice is a no-op")
	s.Empty(target.Images())
	s.Empty(target.Errors())
	s.Zero(heard.Load())
	s.False(s.svc.Cancel(h))
}

func (s *LoaderSuite) TestTransformsAndScale() {
	s.src.data["a"] = pngOf(s.T(), 40, 20)
	target := &recordingTarget{}
	h := s.newTarget(target)

	scaled := Request{Source: "a", Width: 10, Height: 10, Scale: 2}
	s.Require().NoError(s.wait(s.svc.LoadInto(h, scaled, scheduler.PriorityNormal)))
	s.Require().Len(target.Images(), 1)
	s.Equal(20, target.Images()[0].Bounds().Dx())
	s.Equal(10, target.Images()[0].Bounds().Dy())

	circled := Request{Source: "a", Transforms: []transforms.Transformation{transforms.Circle{}}}
	s.NotEqual(circled.Key(), Request{Source: "a"}.Key())
	s.Require().NoError(s.wait(s.svc.LoadInto(h, circled, scheduler.PriorityNormal)))
	s.Require().Len(target.Images(), 2)
	s.Equal(20, target.Images()[1].Bounds().Dx())
	s.Equal(20, target.Images()[1].Bounds().Dy())
}

func (s *LoaderSuite) TestHeadlessLoad() {
	s.src.data["a"] = pngOf(s.T(), 8, 4)

	img, err := s.svc.Load(context.Background(), Request{Source: "a"}, scheduler.PriorityPrefetch)
	s.Require().NoError(err)
	s.Equal(8, img.Bounds().Dx())
	s.True(s.svc.Memory().Contains(Request{Source: "a"}.Key()))

	img2, err := s.svc.Load(context.Background(), Request{Source: "a"}, scheduler.PriorityPrefetch)
	s.Require().NoError(err)
	s.Same(img, img2)
	s.Equal(1, s.src.Calls("a"))
}

func (s *LoaderSuite) TestHeadlessLoadCancelled() {
	s.src.data["a"] = pngOf(s.T(), 8, 4)
	release := s.src.gate("a")
	defer release()

	ctx, cancel := context.WithCancelCause(context.Background())
	s.src.mu.Lock()
	started := s.src.startedChan("a")
	s.src.mu.Unlock()
	go func() {
		<-started
		cancel(common.ErrCancelled)
	}()
	_, err := s.svc.Load(ctx, Request{Source: "a"}, scheduler.PriorityPrefetch)
	s.ErrorIs(err, common.ErrCancelled)
}

func (s *LoaderSuite) TestInvalidateCache() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	h := s.newTarget(&recordingTarget{})
	task := s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)
	s.Require().NoError(s.wait(task))

	s.Require().NoError(s.svc.InvalidateCache(context.Background(), task.Key()))
	s.False(s.svc.Memory().Contains(task.Key()))
	_, ok, err := s.bytes.Read(context.Background(), task.Key())
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.wait(s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)))
	s.Equal(2, s.src.Calls("a"))
}

func (s *LoaderSuite) TestReleaseTarget() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	h := s.newTarget(&recordingTarget{})
	s.Require().NoError(s.wait(s.svc.LoadInto(h, Request{Source: "a"}, scheduler.PriorityNormal)))
	s.Equal(1, s.svc.Registry().Len())

	s.svc.ReleaseTarget(h)
	s.Equal(0, s.svc.Registry().Len())
}

func (s *LoaderSuite) TestReconfigure() {
	next := config.NewDefaultConfig()
	next.Workers.NumWorkers = 3
	next.Workers.MaxConcurrentLoads = 7
	next.Workers.MaxConcurrentFetches = 2
	next.MemoryCache.MaxSizeBytes = 1024

	s.svc.Reconfigure(next)
	s.Equal(7, s.svc.SchedulerStats().Limit)
	s.Same(next, s.svc.Config())
	s.Equal(2, s.svc.fetches.Load().size)
}

func (s *LoaderSuite) TestRefusedDeliveryReleasesImage() {
	s.src.data["a"] = pngOf(s.T(), 8, 8)
	var destroyed atomic.Int32
	s.svc.Memory().OnEvict = func(_ cache_key.Key, _ image.Image, _ memory_cache.EvictReason) {
		destroyed.Add(1)
	}
	s.loop.Close()

	target := &recordingTarget{}
	task := s.svc.LoadInto(s.newTarget(target), Request{Source: "a"}, scheduler.PriorityNormal)
	s.Require().NoError(s.wait(task))
	s.Equal(StateCompleted, task.State())
	s.Empty(target.Images())

	// no handle is left behind, so invalidating destroys the entry right away
	s.svc.Memory().Invalidate(task.Key())
	s.Equal(int32(1), destroyed.Load())
}

func (s *LoaderSuite) TestClosedServiceCancelsNewWork() {
	s.Require().NoError(s.svc.Close())

	task := s.svc.LoadInto(s.newTarget(&recordingTarget{}), Request{Source: "a"}, scheduler.PriorityNormal)
	s.ErrorIs(s.wait(task), common.ErrClosed)
	s.Equal(StateCancelled, task.State())
	s.Equal(0, s.src.Calls("a"))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "queued", StateQueued.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestNewByteCache(t *testing.T) {
	cfg := config.NewDefaultConfig()
	log := logrus.WithField("test", t.Name())

	cfg.DiskCache.Enabled = false
	bc, err := NewByteCache(context.Background(), cfg, log)
	require.NoError(t, err)
	assert.Nil(t, bc)

	cfg.DiskCache.Enabled = true
	cfg.DiskCache.Type = "memory"
	bc, err = NewByteCache(context.Background(), cfg, log)
	require.NoError(t, err)
	assert.NotNil(t, bc)

	cfg.DiskCache.Type = "floppy"
	_, err = NewByteCache(context.Background(), cfg, log)
	assert.Error(t, err)
}
