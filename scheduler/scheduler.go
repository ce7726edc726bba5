package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/metrics"
)

const metricsLabel = "scheduler"

type Priority int

const (
	PriorityPrefetch Priority = 0
	PriorityNormal   Priority = 10
	PriorityVisible  Priority = 20
)

// WorkFunc performs a job. The context is cancelled once nobody is waiting for the result any more.
type WorkFunc[T any] func(ctx context.Context) (T, error)

type Request[T any] struct {
	Key      cache_key.Key
	Priority Priority
	Work     WorkFunc[T]

	// Timeout, when positive, limits how long this request waits for a result, queued or running.
	Timeout time.Duration

	// OnStart is called when the job serving this request starts running (or immediately, if the
	// request joined a job that is already running). It is called with the scheduler lock held and
	// must not call back into the scheduler.
	OnStart func()

	// OnDone receives the result. It is not called for requests which were cancelled.
	OnDone func(value T, err error)
}

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobDone
)

type job[T any] struct {
	key      cache_key.Key
	priority Priority
	seq      uint64
	index    int
	state    jobState
	work     WorkFunc[T]

	ctx    context.Context
	cancel context.CancelCauseFunc

	listeners map[*listener[T]]struct{}
}

type listener[T any] struct {
	onStart func()
	onDone  func(T, error)
	timer   *time.Timer
	job     *job[T]
	done    bool // guarded by the scheduler lock
}

// Scheduler runs keyed jobs with bounded concurrency. Requests for a key that is already queued or
// running join the existing job instead of starting new work.
type Scheduler[T any] struct {
	mu       sync.Mutex
	queue    jobHeap[T]
	inflight map[cache_key.Key]*job[T]
	running  int
	limit    int
	seq      uint64
	closed   bool
	wg       sync.WaitGroup
	log      *logrus.Entry
}

func New[T any](limit int, log *logrus.Entry) *Scheduler[T] {
	if limit <= 0 {
		limit = 1
	}
	if log == nil {
		log = logrus.WithField("component", metricsLabel)
	}
	return &Scheduler[T]{
		queue:    make(jobHeap[T], 0),
		inflight: make(map[cache_key.Key]*job[T]),
		limit:    limit,
		log:      log,
	}
}

// Enqueue submits a request and returns a ticket which can cancel it.
func (s *Scheduler[T]) Enqueue(req Request[T]) *Ticket[T] {
	l := &listener[T]{onStart: req.OnStart, onDone: req.OnDone}
	t := &Ticket[T]{s: s, l: l, key: req.Key}

	s.mu.Lock()
	if s.closed {
		l.done = true
		s.mu.Unlock()
		var zero T
		if l.onDone != nil {
			l.onDone(zero, common.ErrClosed)
		}
		return t
	}

	if j, ok := s.inflight[req.Key]; ok {
		t.deduplicated = true
		metrics.TasksDeduplicated.Inc()
		l.job = j
		j.listeners[l] = struct{}{}
		switch j.state {
		case jobQueued:
			if req.Priority > j.priority {
				s.log.Debugf("Promoting queued job %s from %d to %d", req.Key, j.priority, req.Priority)
				j.priority = req.Priority
				heap.Fix(&s.queue, j.index)
			}
		case jobRunning:
			if l.onStart != nil {
				l.onStart()
			}
		}
	} else {
		s.seq++
		ctx, cancel := context.WithCancelCause(context.Background())
		j = &job[T]{
			key:       req.Key,
			priority:  req.Priority,
			seq:       s.seq,
			work:      req.Work,
			ctx:       ctx,
			cancel:    cancel,
			listeners: map[*listener[T]]struct{}{l: {}},
		}
		l.job = j
		s.inflight[req.Key] = j
		heap.Push(&s.queue, j)
	}

	if req.Timeout > 0 {
		l.timer = time.AfterFunc(req.Timeout, func() {
			s.expire(l)
		})
	}

	s.dispatchLocked()
	s.mu.Unlock()
	return t
}

// dispatchLocked starts queued jobs while there is room.
func (s *Scheduler[T]) dispatchLocked() {
	for s.running < s.limit && s.queue.Len() > 0 {
		j := heap.Pop(&s.queue).(*job[T])
		j.state = jobRunning
		s.running++
		for l := range j.listeners {
			if l.onStart != nil {
				l.onStart()
			}
		}
		s.wg.Add(1)
		go s.run(j)
	}
	metrics.QueueDepth.With(prometheus.Labels{"queue": metricsLabel}).Set(float64(s.queue.Len()))
	metrics.QueueRunning.With(prometheus.Labels{"queue": metricsLabel}).Set(float64(s.running))
}

func (s *Scheduler[T]) run(j *job[T]) {
	defer s.wg.Done()

	value, err := s.safeWork(j)

	s.mu.Lock()
	if s.inflight[j.key] == j {
		delete(s.inflight, j.key)
	}
	s.running--
	j.state = jobDone
	finished := make([]*listener[T], 0, len(j.listeners))
	for l := range j.listeners {
		if !l.done {
			l.done = true
			finished = append(finished, l)
		}
	}
	j.listeners = nil
	s.dispatchLocked()
	s.mu.Unlock()

	j.cancel(nil) // release the context's resources
	for _, l := range finished {
		l.finish(value, err)
	}
}

func (s *Scheduler[T]) safeWork(j *job[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Panic while running job %s: %v", j.key, r)
			err = fmt.Errorf("panic in job: %v", r)
			sentry.CaptureException(err)
		}
	}()
	return j.work(j.ctx)
}

func (l *listener[T]) finish(value T, err error) {
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.onDone != nil {
		l.onDone(value, err)
	}
}

// detachLocked removes l from its job. A job nobody is waiting on is dropped from the queue, or
// cancelled if it is already running.
func (s *Scheduler[T]) detachLocked(l *listener[T]) bool {
	if l.done {
		return false
	}
	l.done = true
	if l.timer != nil {
		l.timer.Stop()
	}

	j := l.job
	delete(j.listeners, l)
	if len(j.listeners) > 0 {
		return true
	}

	switch j.state {
	case jobQueued:
		heap.Remove(&s.queue, j.index)
		delete(s.inflight, j.key)
		j.state = jobDone
		j.cancel(common.ErrCancelled)
	case jobRunning:
		// Later requests for the key start fresh work rather than joining a cancelled job
		if s.inflight[j.key] == j {
			delete(s.inflight, j.key)
		}
		j.cancel(common.ErrCancelled)
	}
	metrics.QueueDepth.With(prometheus.Labels{"queue": metricsLabel}).Set(float64(s.queue.Len()))
	return true
}

func (s *Scheduler[T]) expire(l *listener[T]) {
	s.mu.Lock()
	detached := s.detachLocked(l)
	s.mu.Unlock()

	if detached && l.onDone != nil {
		var zero T
		l.onDone(zero, common.ErrTimeout)
	}
}

// SetLimit changes how many jobs may run at once.
func (s *Scheduler[T]) SetLimit(limit int) {
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	s.dispatchLocked()
}

type Stats struct {
	Queued   int
	Running  int
	Limit    int
	Inflight int
}

func (s *Scheduler[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:   s.queue.Len(),
		Running:  s.running,
		Limit:    s.limit,
		Inflight: len(s.inflight),
	}
}

// Close rejects new requests, fails queued ones with common.ErrClosed, cancels running jobs and
// waits for them to return.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	failed := make([]*listener[T], 0)
	for s.queue.Len() > 0 {
		j := heap.Pop(&s.queue).(*job[T])
		j.state = jobDone
		j.cancel(common.ErrClosed)
		for l := range j.listeners {
			if !l.done {
				l.done = true
				failed = append(failed, l)
			}
		}
		delete(s.inflight, j.key)
	}
	for _, j := range s.inflight {
		j.cancel(common.ErrClosed)
	}
	s.mu.Unlock()

	var zero T
	for _, l := range failed {
		l.finish(zero, common.ErrClosed)
	}
	s.wg.Wait()
}
