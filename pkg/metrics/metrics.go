// Package metrics exposes the engine's Prometheus counters and gauges.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueStats is the snapshot the scheduler reports on every scrape.
type QueueStats interface {
	Depths() (ready, delayed, waiting int)
}

// Metrics holds Prometheus metric descriptors for the engine.
type Metrics struct {
	startTime time.Time
	gatherer  prometheus.Gatherer
	queue     QueueStats

	functionCalls   *prometheus.CounterVec
	softErrors      prometheus.Counter
	limitAborts     *prometheus.CounterVec
	commandsTotal   prometheus.Counter
	lockCache       *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	entriesExecuted prometheus.Counter
	entriesDropped  prometheus.Counter
	executorPanics  prometheus.Counter
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg uses a
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		startTime: time.Now(),
		gatherer:  reg,
		functionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcode_function_invocations_total",
			Help: "Function invocations by function name.",
		}, []string{"function"}),
		softErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcode_soft_errors_total",
			Help: "Sentinel error results produced by functions.",
		}),
		limitAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcode_limit_aborts_total",
			Help: "Top-level commands aborted by a resource ceiling.",
		}, []string{"limit"}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcode_commands_processed_total",
			Help: "Top-level commands run.",
		}),
		lockCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcode_lock_cache_total",
			Help: "Lock cache lookups by outcome.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushcode_queue_depth",
			Help: "Current command queue depth by type.",
		}, []string{"queue_type"}),
		entriesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcode_queue_executed_total",
			Help: "Queue entries executed.",
		}),
		entriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcode_queue_dropped_total",
			Help: "Queue entries dropped at the per-object limit.",
		}),
		executorPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushcode_queue_panics_total",
			Help: "Queue entries whose execution panicked.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcode_uptime_seconds",
			Help: "Uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcode_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcode_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.functionCalls,
		m.softErrors,
		m.limitAborts,
		m.commandsTotal,
		m.lockCache,
		m.queueDepth,
		m.entriesExecuted,
		m.entriesDropped,
		m.executorPanics,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// WatchQueue makes every scrape refresh the queue depth gauges from q.
func (m *Metrics) WatchQueue(q QueueStats) {
	if m != nil {
		m.queue = q
	}
}

func (m *Metrics) FunctionCalled(name string) {
	if m != nil {
		m.functionCalls.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) SoftError() {
	if m != nil {
		m.softErrors.Inc()
	}
}

func (m *Metrics) LimitAbort(kind string) {
	if m != nil {
		m.limitAborts.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) CommandRun() {
	if m != nil {
		m.commandsTotal.Inc()
	}
}

// LockCache records a cache lookup; result is "hit", "miss" or "evict".
func (m *Metrics) LockCache(result string) {
	if m != nil {
		m.lockCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) EntryExecuted() {
	if m != nil {
		m.entriesExecuted.Inc()
	}
}

func (m *Metrics) EntryDropped() {
	if m != nil {
		m.entriesDropped.Inc()
	}
}

func (m *Metrics) ExecutorPanic() {
	if m != nil {
		m.executorPanics.Inc()
	}
}

// Update refreshes all gauges.
func (m *Metrics) Update() {
	if m == nil {
		return
	}
	if m.queue != nil {
		ready, delayed, waiting := m.queue.Depths()
		m.queueDepth.WithLabelValues("ready").Set(float64(ready))
		m.queueDepth.WithLabelValues("delayed").Set(float64(delayed))
		m.queueDepth.WithLabelValues("semaphore").Set(float64(waiting))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
