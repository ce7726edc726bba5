package loader

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/bindings"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common"
	"github.com/t2bot/image-loader/memory_cache"
	"github.com/t2bot/image-loader/metrics"
	"github.com/t2bot/image-loader/scheduler"
)

type State int32

const (
	StateCreated State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Task is one request to load an image, optionally into a target. Several tasks for the same key
// share a single scheduled job.
type Task struct {
	id       string
	key      cache_key.Key
	req      Request
	priority scheduler.Priority
	svc      *Service
	log      *logrus.Entry

	// the registry owns the binding; the task only needs to find its target again
	target   weak.Pointer[bindings.Handle]
	headless bool

	state atomic.Int32

	mu     sync.Mutex // guards ticket against a concurrent Cancel during enqueue
	ticket *scheduler.Ticket[*decoded]

	finishOnce sync.Once
	done       chan struct{}
	err        error
	img        image.Image // headless results only
}

func (t *Task) Id() string {
	return t.id
}

func (t *Task) Key() cache_key.Key {
	return t.key
}

func (t *Task) Request() Request {
	return t.req
}

func (t *Task) State() State {
	return State(t.state.Load())
}

// Finished reports whether the task reached a terminal state.
func (t *Task) Finished() bool {
	return t.State().Terminal()
}

// Target returns the handle the task loads into, or nil for headless tasks and collected targets.
func (t *Task) Target() *bindings.Handle {
	return t.target.Value()
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends, returning the task's error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Err is the task's final error, or nil while it is still running or if it succeeded.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel stops the task if it has not finished. Cancellation is silent: neither the target nor
// the listener hear about it. Returns false if the task had already finished.
func (t *Task) Cancel() bool {
	if !t.moveTo(StateCancelled) {
		return false
	}

	t.mu.Lock()
	ticket := t.ticket
	t.mu.Unlock()
	if ticket != nil {
		ticket.Cancel()
	}

	t.log.Debug("Task cancelled")
	t.finish(common.ErrCancelled)
	return true
}

// moveTo switches to a terminal state from any non-terminal one.
func (t *Task) moveTo(to State) bool {
	for {
		s := t.State()
		if s.Terminal() {
			return false
		}
		if t.state.CompareAndSwap(int32(s), int32(to)) {
			metrics.TasksFinished.With(prometheus.Labels{"state": to.String()}).Inc()
			return true
		}
	}
}

func (t *Task) finish(err error) {
	t.finishOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) markRunning() {
	t.state.CompareAndSwap(int32(StateQueued), int32(StateRunning))
}

// onDone receives the job result from the scheduler.
func (t *Task) onDone(res *decoded, err error) {
	if err != nil {
		t.fail(err)
		return
	}

	h := t.svc.memory.PutAndAcquire(t.key, res.img, res.size)
	t.succeed(h)
}

// succeed takes ownership of h.
func (t *Task) succeed(h *memory_cache.Handle) {
	if !t.moveTo(StateCompleted) {
		h.Release()
		return
	}

	target := t.target.Value()
	if t.headless || target == nil {
		t.img = h.Image()
		h.Release()
		t.notifyListener(nil)
		t.finish(nil)
		return
	}

	accepted := t.svc.dispatcher.Dispatch(func() {
		delivered := t.svc.registry.Show(target, t, h, func(tgt bindings.Target) {
			tgt.SetImage(h.Image())
		})
		if !delivered {
			t.log.Debug("Target moved on before delivery, discarding result")
			h.Release()
		}
		metrics.TasksDelivered.With(prometheus.Labels{"current": boolLabel(delivered)}).Inc()
		if t.req.Listener != nil {
			t.req.Listener(t, nil)
		}
	})
	if !accepted {
		t.log.Debug("Dispatcher refused delivery, discarding result")
		h.Release()
	}
	t.finish(nil)
}

func (t *Task) fail(err error) {
	if !common.IsReportable(err) || errors.Is(err, common.ErrClosed) {
		if t.moveTo(StateCancelled) {
			t.finish(err)
		}
		return
	}
	if !t.moveTo(StateFailed) {
		return
	}

	switch {
	case errors.Is(err, common.ErrTimeout):
		t.log.Debug("Image load timed out: ", err)
	case errors.Is(err, common.ErrSourceUnavailable), errors.Is(err, common.ErrDecode):
		t.log.Warn("Error loading image: ", err)
	default:
		t.log.Error("Unexpected error loading image: ", err)
		sentry.CaptureException(err)
	}

	target := t.target.Value()
	if t.headless || target == nil {
		t.notifyListener(err)
		t.finish(err)
		return
	}

	t.svc.dispatcher.Dispatch(func() {
		t.svc.registry.Show(target, t, nil, func(tgt bindings.Target) {
			tgt.SetError(err)
		})
		if t.req.Listener != nil {
			t.req.Listener(t, err)
		}
	})
	t.finish(err)
}

func (t *Task) notifyListener(err error) {
	if t.req.Listener == nil {
		return
	}
	t.svc.dispatcher.Dispatch(func() {
		t.req.Listener(t, err)
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
