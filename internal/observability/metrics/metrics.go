package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"Orchestra-Engine/internal/orchestration"
)

// Namespace 是所有指标的前缀。
const Namespace = "orchd"

// Collector 持有独立的 Prometheus registry，并实现 orchestration.Recorder。
type Collector struct {
	registry *prometheus.Registry

	orchestrations   *prometheus.CounterVec
	orchDuration     *prometheus.HistogramVec
	levelDuration    *prometheus.HistogramVec
	levelFailures    *prometheus.CounterVec
	taskFailures     *prometheus.CounterVec
	permitsInUse     prometheus.Gauge
	historyEvictions prometheus.Counter
	archiveDropped   prometheus.Counter
	progressDropped  prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ orchestration.Recorder = (*Collector)(nil)

// New 创建采集器并注册全部指标，includeRuntime 为真时附带 Go 运行时与进程指标。
func New(includeRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		orchestrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orchestrations_total",
			Help:      "Orchestrations finished, by outcome.",
		}, []string{"status"}),
		orchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "orchestration_duration_seconds",
			Help:      "Wall-clock duration of orchestrations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"status"}),
		levelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "level_duration_seconds",
			Help:      "Level execution duration, by strategy and complexity tier.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"kind", "tier"}),
		levelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "level_failures_total",
			Help:      "Levels that ended with an error, by strategy.",
		}, []string{"kind"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_failures_total",
			Help:      "Task handler failures, by level strategy.",
		}, []string{"kind"}),
		permitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "permits_in_use",
			Help:      "Admission permits currently held.",
		}),
		historyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "history_evictions_total",
			Help:      "History entries evicted from the in-memory ledger.",
		}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "history_archive_dropped_total",
			Help:      "Evicted entries dropped because the archive queue was full.",
		}),
		progressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "progress_events_dropped_total",
			Help:      "Progress events dropped for slow subscribers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		c.orchestrations, c.orchDuration, c.levelDuration, c.levelFailures, c.taskFailures,
		c.permitsInUse, c.historyEvictions, c.archiveDropped, c.progressDropped,
		c.httpRequests, c.httpErrors, c.httpLatency,
	)
	if includeRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry 返回底层 registry。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// OrchestrationFinished 实现 orchestration.Recorder。
func (c *Collector) OrchestrationFinished(status orchestration.HistoryStatus, d time.Duration) {
	c.orchestrations.WithLabelValues(string(status)).Inc()
	c.orchDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// LevelFinished 实现 orchestration.Recorder。
func (c *Collector) LevelFinished(kind orchestration.LevelKind, tier orchestration.Tier, d time.Duration, failed bool) {
	c.levelDuration.WithLabelValues(string(kind), tier.String()).Observe(d.Seconds())
	if failed {
		c.levelFailures.WithLabelValues(string(kind)).Inc()
	}
}

// TaskFailed 实现 orchestration.Recorder。
func (c *Collector) TaskFailed(kind orchestration.LevelKind) {
	c.taskFailures.WithLabelValues(string(kind)).Inc()
}

// PermitsInUse 实现 orchestration.Recorder。
func (c *Collector) PermitsInUse(n int) { c.permitsInUse.Set(float64(n)) }

// HistoryEvicted 实现 orchestration.Recorder。
func (c *Collector) HistoryEvicted() { c.historyEvictions.Inc() }

// ArchiveDropped 实现 orchestration.Recorder。
func (c *Collector) ArchiveDropped() { c.archiveDropped.Inc() }

// ProgressDropped 实现 orchestration.Recorder。
func (c *Collector) ProgressDropped() { c.progressDropped.Inc() }
