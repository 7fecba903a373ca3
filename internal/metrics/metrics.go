// Package metrics registers Prometheus instrumentation for the
// settlement engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "settlement_"

var (
	registerOnce sync.Once

	batchesBuilt    *prometheus.CounterVec
	batchesFinished *prometheus.CounterVec
	itemsProcessed  *prometheus.CounterVec
	processLatency  prometheus.Histogram
	reconciliations *prometheus.CounterVec
)

// Init registers the engine metrics with the default registry. Safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		batchesBuilt = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_built_total",
				Help: "Settlement batches built, by outcome",
			},
			[]string{"outcome"},
		)
		batchesFinished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_finished_total",
				Help: "Batches reaching a terminal status",
			},
			[]string{"status"},
		)
		itemsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "line_items_processed_total",
				Help: "Line items processed, by result",
			},
			[]string{"result"},
		)
		processLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_process_seconds",
				Help:    "Wall time spent processing a batch",
				Buckets: prometheus.DefBuckets,
			},
		)
		reconciliations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconciliations_total",
				Help: "Reconciliation records created, by classification",
			},
			[]string{"classification"},
		)

		prometheus.MustRegister(batchesBuilt, batchesFinished, itemsProcessed, processLatency, reconciliations)
	})
}

func BatchBuilt(outcome string) {
	if batchesBuilt != nil {
		batchesBuilt.WithLabelValues(outcome).Inc()
	}
}

func BatchFinished(status string) {
	if batchesFinished != nil {
		batchesFinished.WithLabelValues(status).Inc()
	}
}

func ItemProcessed(result string) {
	if itemsProcessed != nil {
		itemsProcessed.WithLabelValues(result).Inc()
	}
}

func ObserveProcessLatency(seconds float64) {
	if processLatency != nil {
		processLatency.Observe(seconds)
	}
}

func ReconciliationRecorded(classification string) {
	if reconciliations != nil {
		reconciliations.WithLabelValues(classification).Inc()
	}
}
