package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/logging"
	"github.com/t2bot/image-loader/metrics"
)

// ErrPanic is returned by Do when the function it ran panicked.
var ErrPanic = errors.New("panic in queued work")

// Queue is a bounded pool of goroutines for CPU-bound work such as decoding and transforming.
type Queue struct {
	pool *ants.Pool
	name string
}

func NewQueue(workers int, name string) (*Queue, error) {
	p, err := ants.NewPool(workers, ants.WithOptions(ants.Options{
		ExpiryDuration:   1 * time.Minute, // worker lifespan when unused
		PreAlloc:         false,
		MaxBlockingTasks: 0, // no limit on tasks we can submit
		Nonblocking:      false,
		PanicHandler: func(err interface{}) {
			reportPanic(name, err)
		},
		Logger:       logging.LibraryLogger{Entry: logrus.WithField("queue", name)},
		DisablePurge: false,
	}))
	if err != nil {
		return nil, err
	}
	return &Queue{pool: p, name: name}, nil
}

func reportPanic(name string, r interface{}) error {
	logrus.Errorf("Panic from internal queue %s", name)
	logrus.Error(r)
	err := fmt.Errorf("%w: %v", ErrPanic, r)
	//goland:noinspection GoTypeAssertionOnErrors
	if e, ok := r.(error); ok {
		sentry.CaptureException(e)
	} else {
		sentry.CaptureException(err)
	}
	return err
}

// Do runs fn on the pool and waits for it to finish. Submission happens off the caller's goroutine
// because ants blocks while every worker is busy. If ctx ends first, Do returns the context's cause
// and fn is skipped if it has not started yet. A panic in fn is recovered and returned as ErrPanic.
func (p *Queue) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	submitErr := make(chan error, 1)
	var panicErr error
	go func() {
		err := p.pool.Submit(func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					panicErr = reportPanic(p.name, r)
				}
			}()
			if ctx.Err() != nil {
				return
			}
			fn()
		})
		if err != nil {
			submitErr <- err
		}
	}()
	select {
	case <-done:
		return panicErr
	case err := <-submitErr:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (p *Queue) Tune(workers int) {
	if workers <= 0 {
		return
	}
	p.pool.Tune(workers)
}

func (p *Queue) Cap() int {
	return p.pool.Cap()
}

// RefreshMetrics publishes the pool's current load.
func (p *Queue) RefreshMetrics() {
	metrics.QueueRunning.WithLabelValues(p.name).Set(float64(p.pool.Running()))
	metrics.QueueCapacity.WithLabelValues(p.name).Set(float64(p.Cap()))
	metrics.QueueDepth.WithLabelValues(p.name).Set(float64(p.pool.Waiting()))
}

func (p *Queue) Release() {
	p.pool.Release()
}
