package task_runner

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/t2bot/image-loader/common/rcontext"
)

// EvictExpired sweeps the byte tier. A sweep is cut off once it has run for a whole eviction
// interval.
func EvictExpired(svc Maintainable) func(ctx rcontext.RequestContext) {
	return func(ctx rcontext.RequestContext) {
		if ctx.Config != nil && ctx.Config.DiskCache.EvictionIntervalMinutes > 0 {
			deadline, cancel := context.WithTimeout(ctx.Context, time.Duration(ctx.Config.DiskCache.EvictionIntervalMinutes)*time.Minute)
			defer cancel()
			ctx = ctx.WithContext(deadline)
		}

		start := time.Now()
		n, err := svc.EvictExpired(ctx)
		if err != nil {
			ctx.Log.Error("Error evicting expired cache entries: ", err)
			sentry.CaptureException(err)
			return
		}
		if n > 0 {
			ctx.Log.Infof("Evicted %d cache entries in %s", n, time.Since(start))
		} else {
			ctx.Log.Debug("Nothing to evict")
		}
	}
}
