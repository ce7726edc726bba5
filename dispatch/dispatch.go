package dispatch

import (
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Dispatcher runs delivery callbacks on the goroutine that owns the targets. Dispatch returns false
// when fn will never run; the caller then still owns whatever fn would have released.
type Dispatcher interface {
	Dispatch(fn func()) bool
}

// Immediate runs callbacks on the calling goroutine. Useful for headless use and simple tests.
type Immediate struct{}

func (Immediate) Dispatch(fn func()) bool {
	fn()
	return true
}

// Loop runs callbacks one at a time, in order, on a single goroutine. Dispatch never blocks.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) Dispatch(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		logrus.Debug("Refusing callback dispatched after the loop closed")
		return false
	}
	l.pending = append(l.pending, fn)
	l.cond.Signal()
	return true
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			runSafely(fn)
		}
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Error("Panic in dispatched callback: ", r)
			sentry.CurrentHub().Recover(r)
		}
	}()
	fn()
}

// Sync blocks until every callback dispatched before the call has run.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.pending = append(l.pending, func() { close(ch) })
	l.cond.Signal()
	l.mu.Unlock()
	<-ch
}

// Close runs what is already queued, then stops the loop.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.done
}
