package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_cache_hits_total",
}, []string{"cache"})
var CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_cache_misses_total",
}, []string{"cache"})
var CacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_cache_evictions_total",
}, []string{"cache", "reason"})
var CacheNumItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_cache_num_items",
}, []string{"cache"})
var CacheNumBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_cache_num_bytes_used",
}, []string{"cache"})
var CacheLiveNumBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_cache_num_live_bytes_used",
}, []string{"cache"})
var CacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_cache_errors_total",
}, []string{"cache", "operation"})
var TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_tasks_finished_total",
}, []string{"state"})
var TasksDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "image_loader_tasks_deduplicated_total",
})
var TasksDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_tasks_delivered_total",
}, []string{"current"})
var QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_queue_depth",
}, []string{"queue"})
var QueueRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_queue_running",
}, []string{"queue"})
var QueueCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "image_loader_queue_capacity",
}, []string{"queue"})
var SourceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "image_loader_source_fetches_total",
}, []string{"scheme", "outcome"})
var DecodeTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "image_loader_decode_time_seconds",
}, []string{"format"})
var BoundTargets = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "image_loader_bound_targets",
})

func init() {
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(CacheNumItems)
	prometheus.MustRegister(CacheNumBytes)
	prometheus.MustRegister(CacheLiveNumBytes)
	prometheus.MustRegister(CacheErrors)
	prometheus.MustRegister(TasksFinished)
	prometheus.MustRegister(TasksDeduplicated)
	prometheus.MustRegister(TasksDelivered)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueRunning)
	prometheus.MustRegister(QueueCapacity)
	prometheus.MustRegister(SourceFetches)
	prometheus.MustRegister(DecodeTime)
	prometheus.MustRegister(BoundTargets)
}
