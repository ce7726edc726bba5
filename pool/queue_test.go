package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	q, err := NewQueue(2, "test_bounds")
	require.NoError(t, err)
	defer q.Release()

	var running, peak int32
	wg := &sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Do(context.Background(), func() {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
			}))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 2, q.Cap())
}

func TestQueueDoHonoursContext(t *testing.T) {
	q, err := NewQueue(1, "test_ctx")
	require.NoError(t, err)
	defer q.Release()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() {
			close(started)
			<-block
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err = q.Do(ctx, func() { ran.Store(true) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestQueueDoReturnsPanicAsError(t *testing.T) {
	q, err := NewQueue(1, "test_panic")
	require.NoError(t, err)
	defer q.Release()

	err = q.Do(context.Background(), func() {
		var m map[string]int
		m["boom"]++
	})
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "nil map")

	// the worker survives and the queue keeps serving
	ran := false
	assert.NoError(t, q.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestQueueTune(t *testing.T) {
	q, err := NewQueue(1, "test_tune")
	require.NoError(t, err)
	defer q.Release()

	q.Tune(4)
	assert.Equal(t, 4, q.Cap())
	q.Tune(0)
	assert.Equal(t, 4, q.Cap())
}
