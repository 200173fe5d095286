// Package metrics holds the runtime's prometheus collectors.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "omega"

// Registry is the registry every omega collector is registered with.
var Registry = prometheus.NewRegistry()

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Count of executed loop cycles by outcome.",
		},
		[]string{"loop_type", "status"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Loop cycle latency.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30, 60, 600},
		},
		[]string{"loop_type"},
	)
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		},
		[]string{"breaker"},
	)
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Count of circuit breaker transitions by target state.",
		},
		[]string{"breaker", "to"},
	)
	healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "Subsystem health: 0 healthy, 1 degraded, 2 unhealthy.",
		},
		[]string{"subsystem"},
	)
	busDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Count of bus messages dropped on full subscriber queues.",
		},
		[]string{"topic"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Count of events dropped on full subscriber queues.",
		},
		[]string{"subscriber"},
	)
	memoryOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Count of memory store and recall operations by outcome.",
		},
		[]string{"operation", "status"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(cyclesTotal)
		Registry.MustRegister(cycleDuration)
		Registry.MustRegister(breakerState)
		Registry.MustRegister(breakerTransitions)
		Registry.MustRegister(healthStatus)
		Registry.MustRegister(busDropped)
		Registry.MustRegister(eventsDropped)
		Registry.MustRegister(memoryOps)
	})
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordCycle records one cycle's outcome and latency.
func RecordCycle(loopType string, success, timedOut bool, latency time.Duration) {
	status := outcome(success)
	if timedOut {
		status = "timeout"
	}
	cyclesTotal.WithLabelValues(loopType, status).Inc()
	cycleDuration.WithLabelValues(loopType).Observe(latency.Seconds())
}

// RecordBreakerTransition records a breaker entering state to. level is
// 0 closed, 1 open, 2 half-open.
func RecordBreakerTransition(breaker, to string, level int) {
	breakerState.WithLabelValues(breaker).Set(float64(level))
	breakerTransitions.WithLabelValues(breaker, to).Inc()
}

// RecordHealth records a subsystem's health level.
func RecordHealth(subsystem string, level int) {
	healthStatus.WithLabelValues(subsystem).Set(float64(level))
}

// RecordBusDrop counts a dropped bus message.
func RecordBusDrop(topic string) {
	busDropped.WithLabelValues(topic).Inc()
}

// RecordEventDrop counts a dropped event.
func RecordEventDrop(subscriber string) {
	eventsDropped.WithLabelValues(subscriber).Inc()
}

// RecordMemoryOp counts a memory operation.
func RecordMemoryOp(operation string, success bool) {
	memoryOps.WithLabelValues(operation, outcome(success)).Inc()
}

// Snapshot gathers the registry into a flat map keyed by
// name{label="value",...}. Histograms contribute _count and _sum entries.
func Snapshot() (map[string]float64, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			key := seriesKey(family.GetName(), m.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out[seriesKey(family.GetName()+"_count", m.GetLabel())] = float64(h.GetSampleCount())
				out[seriesKey(family.GetName()+"_sum", m.GetLabel())] = h.GetSampleSum()
			}
		}
	}
	return out, nil
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
