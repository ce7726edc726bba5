package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var beforeMetricsCalledFns = make([]func(), 0)
var beforeMetricsLock = &sync.Mutex{}

// OnBeforeMetricsRequested registers a function to refresh gauges right before a scrape.
func OnBeforeMetricsRequested(fn func()) {
	beforeMetricsLock.Lock()
	defer beforeMetricsLock.Unlock()
	beforeMetricsCalledFns = append(beforeMetricsCalledFns, fn)
}

func runBeforeMetrics() {
	beforeMetricsLock.Lock()
	fns := make([]func(), len(beforeMetricsCalledFns))
	copy(fns, beforeMetricsCalledFns)
	beforeMetricsLock.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func handler() http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runBeforeMetrics()
		inner.ServeHTTP(w, r)
	})
}
