package tasks

import (
	"time"

	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/tasks/task_runner"
)

const metricsRefreshInterval = 15 * time.Second

// StartAll begins the loader's recurring maintenance. Calling it again with a new config
// reschedules everything.
func StartAll(cfg *config.MainConfig, svc task_runner.Maintainable) {
	evictEvery := time.Duration(cfg.DiskCache.EvictionIntervalMinutes) * time.Minute
	if !cfg.DiskCache.Enabled {
		evictEvery = 0
	}
	scheduleRecurring(cfg, RecurringTaskEvictExpired, evictEvery, task_runner.EvictExpired(svc))
	scheduleRecurring(cfg, RecurringTaskRefreshMetrics, metricsRefreshInterval, task_runner.RefreshMetrics(svc))
}

func StopAll() {
	stopRecurring()
}
