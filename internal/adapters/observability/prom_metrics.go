package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dashlink/dashlink/internal/ports"
)

// Metric names understood by PromObs. Callers pass these to IncCounter /
// SetGauge / ObserveLatency; unknown names are silently ignored so a
// misspelled instrument never panics a control loop.
const (
	MetricSends           = "dashlink_sends_total"
	MetricSuppressed      = "dashlink_sends_suppressed_total"
	MetricSignalErrors    = "dashlink_signal_errors_total"
	MetricTunableWrites   = "dashlink_tunable_writes_total"
	MetricTaskPanics      = "dashlink_task_panics_total"
	MetricRecordsArchived = "dashlink_records_archived_total"
	MetricRecordsDropped  = "dashlink_records_dropped_total"
	MetricLogsSwept       = "dashlink_logs_swept_total"
	MetricMemReclaims     = "dashlink_mem_reclaims_total"

	MetricQueueLength  = "dashlink_record_queue_length"
	MetricArchiveBytes = "dashlink_archive_size_bytes"
	MetricHeapAlloc    = "dashlink_heap_alloc_bytes"
	MetricGoroutines   = "dashlink_goroutines"

	MetricFlushLatency = "dashlink_record_flush_seconds"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	sends := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSends,
		Help: "Values pushed to the telemetry bus.",
	})
	suppressed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSuppressed,
		Help: "Sends suppressed by change filtering.",
	})
	signalErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSignalErrors,
		Help: "Signal accessor or send failures swallowed by tasks.",
	})
	tunableWrites := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricTunableWrites,
		Help: "Field overwrites applied from bus-side tunable edits.",
	})
	taskPanics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricTaskPanics,
		Help: "Update tasks recovered from a panic.",
	})
	recordsArchived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricRecordsArchived,
		Help: "Records handed to at least one recorder.",
	})
	recordsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricRecordsDropped,
		Help: "Records lost to queue backpressure.",
	})
	logsSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricLogsSwept,
		Help: "Archive files removed by the retention sweep.",
	})
	memReclaims := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricMemReclaims,
		Help: "Idle-time memory reclamations triggered.",
	})

	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricQueueLength,
		Help: "Records buffered in the in-memory queue.",
	})
	archiveBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricArchiveBytes,
		Help: "Bytes appended to the current value archive.",
	})
	heapAlloc := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricHeapAlloc,
		Help: "Heap bytes in use by the process.",
	})
	goroutines := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricGoroutines,
		Help: "Live goroutines.",
	})

	flushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricFlushLatency,
		Help:    "Latency of flushing a record batch to all recorders.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	prometheus.MustRegister(
		sends, suppressed, signalErrors, tunableWrites, taskPanics,
		recordsArchived, recordsDropped, logsSwept, memReclaims,
		queueLen, archiveBytes, heapAlloc, goroutines,
		flushLatency,
	)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			MetricSends:           sends,
			MetricSuppressed:      suppressed,
			MetricSignalErrors:    signalErrors,
			MetricTunableWrites:   tunableWrites,
			MetricTaskPanics:      taskPanics,
			MetricRecordsArchived: recordsArchived,
			MetricRecordsDropped:  recordsDropped,
			MetricLogsSwept:       logsSwept,
			MetricMemReclaims:     memReclaims,
		},
		gauges: map[string]prometheus.Gauge{
			MetricQueueLength:  queueLen,
			MetricArchiveBytes: archiveBytes,
			MetricHeapAlloc:    heapAlloc,
			MetricGoroutines:   goroutines,
		},
		histos: map[string]prometheus.Observer{
			MetricFlushLatency: flushLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, fieldsString(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, fieldsString(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	log.Printf("CRITICAL: %s: %v%s", msg, err, fieldsString(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func fieldsString(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(fmt.Sprintf(" %s=%v", f.Key, f.Value))
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
