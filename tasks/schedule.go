package tasks

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/rcontext"
	"github.com/t2bot/image-loader/util"
)

type RecurringTaskName string

const (
	RecurringTaskEvictExpired   RecurringTaskName = "recurring_evict_expired"
	RecurringTaskRefreshMetrics RecurringTaskName = "recurring_refresh_metrics"
)

type RecurringTaskFn func(ctx rcontext.RequestContext)

var localRand = rand.New(rand.NewSource(util.NowMillis()))
var recurDoneChs = make(map[RecurringTaskName]chan bool)
var recurLock = new(sync.RWMutex)

// scheduleRecurring runs workFn every interval (plus up to 10% jitter) until stopped. Scheduling a
// name that is already running replaces it. A non-positive interval only stops the old one.
func scheduleRecurring(cfg *config.MainConfig, name RecurringTaskName, interval time.Duration, workFn RecurringTaskFn) {
	recurLock.Lock()
	defer recurLock.Unlock()
	if val, ok := recurDoneChs[name]; ok {
		val <- true // close that channel
		delete(recurDoneChs, name)
	}

	ctx := rcontext.Initial(cfg).LogWithFields(logrus.Fields{"task": name})
	if interval <= 0 {
		ctx.Log.Info("Recurring task disabled")
		return
	}

	ticker := time.NewTicker(interval + time.Duration(localRand.Int63n(int64(interval/10)+1)))
	ch := make(chan bool)
	recurDoneChs[name] = ch
	go func() {
		defer func() {
			recurLock.Lock()
			defer recurLock.Unlock()
			if recurDoneChs[name] == ch {
				delete(recurDoneChs, name)
			}
		}()

		for {
			select {
			case <-ch:
				ticker.Stop()
				return
			case <-ticker.C:
				workFn(ctx)
			}
		}
	}()
}

func stopRecurring() {
	recurLock.Lock()
	defer recurLock.Unlock()
	for name, ch := range recurDoneChs {
		ch <- true
		delete(recurDoneChs, name)
	}
}

func runningRecurring() []RecurringTaskName {
	recurLock.RLock()
	defer recurLock.RUnlock()
	names := make([]RecurringTaskName, 0, len(recurDoneChs))
	for name := range recurDoneChs {
		names = append(names, name)
	}
	return names
}
