package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/teamchong/greensched/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	threadsSpawnedTotal   prom.Counter
	threadsCompletedTotal prom.Counter
	threadsStolenTotal    prom.Counter
	threadDuration        prom.Histogram
	threadPanicTotal      prom.Counter
	spawnRejectedTotal    *prom.CounterVec
	queueDepth            *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "greensched"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	spawned := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_spawned_total",
		Help:      "Total number of green threads spawned.",
	})
	completed := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_completed_total",
		Help:      "Total number of green threads completed.",
	})
	stolen := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_stolen_total",
		Help:      "Total number of green threads moved between workers by stealing.",
	})
	duration := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "thread_duration_seconds",
		Help:      "Green thread execution duration in seconds.",
		Buckets:   buckets,
	})
	panicTotal := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "thread_panic_total",
		Help:      "Total number of green thread panics.",
	})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "spawn_rejected_total",
		Help:      "Total number of rejected spawns.",
	}, []string{"reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current local queue depth per worker.",
	}, []string{"worker"})

	var err error
	if spawned, err = registerCollector(reg, spawned); err != nil {
		return nil, err
	}
	if completed, err = registerCollector(reg, completed); err != nil {
		return nil, err
	}
	if stolen, err = registerCollector(reg, stolen); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	if panicTotal, err = registerCollector(reg, panicTotal); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		threadsSpawnedTotal:   spawned,
		threadsCompletedTotal: completed,
		threadsStolenTotal:    stolen,
		threadDuration:        duration,
		threadPanicTotal:      panicTotal,
		spawnRejectedTotal:    rejectedVec,
		queueDepth:            queueDepthVec,
	}, nil
}

// RecordSpawn counts a spawned green thread.
func (m *MetricsExporter) RecordSpawn() {
	if m == nil {
		return
	}
	m.threadsSpawnedTotal.Inc()
}

// RecordCompletion counts a completed green thread and observes its duration.
func (m *MetricsExporter) RecordCompletion(duration time.Duration) {
	if m == nil {
		return
	}
	m.threadsCompletedTotal.Inc()
	m.threadDuration.Observe(duration.Seconds())
}

// RecordSteal counts threads moved between workers.
func (m *MetricsExporter) RecordSteal(count int) {
	if m == nil {
		return
	}
	m.threadsStolenTotal.Add(float64(count))
}

// RecordPanic counts green thread panics.
func (m *MetricsExporter) RecordPanic(panicInfo any) {
	if m == nil {
		return
	}
	m.threadPanicTotal.Inc()
}

// RecordRejected counts rejected spawns.
func (m *MetricsExporter) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.spawnRejectedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

// RecordQueueDepth records one worker's queue depth.
func (m *MetricsExporter) RecordQueueDepth(workerID int, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(strconv.Itoa(workerID)).Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
