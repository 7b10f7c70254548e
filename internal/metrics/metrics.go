// Package metrics exposes Prometheus collectors for the processing and
// restore pipelines. There is intentionally no HTTP listener here: the
// registry is in-process only, consumable by an embedding caller
// without this module opening a network socket itself. The CLI does not
// read it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a dedicated, non-global prometheus registry so importing
// this package never mutates prometheus.DefaultRegisterer as a side
// effect of the package init.
var Registry = prometheus.NewRegistry()

var (
	FilesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strongbox",
		Subsystem: "pipeline",
		Name:      "files_processed_total",
		Help:      "Total files processed by the backup pipeline, by outcome.",
	}, []string{"outcome"}) // "success" | "failed"

	BytesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strongbox",
		Subsystem: "pipeline",
		Name:      "bytes_processed_total",
		Help:      "Total bytes processed by the backup pipeline, by stage.",
	}, []string{"stage"}) // "logical" | "stored"

	EntryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strongbox",
		Subsystem: "pipeline",
		Name:      "entry_duration_seconds",
		Help:      "Wall-clock duration of a backup or restore entry.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"operation"}) // "backup" | "restore"

	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "strongbox",
		Subsystem: "pipeline",
		Name:      "workers_active",
		Help:      "Number of worker goroutines currently processing a file.",
	})

	RetentionDeletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strongbox",
		Subsystem: "retention",
		Name:      "entries_deleted_total",
		Help:      "Total backup entries removed by cleanup, by decision.",
	}, []string{"decision"}) // "deleted" | "retained"
)

func init() {
	Registry.MustRegister(FilesProcessed, BytesProcessed, EntryDuration, WorkersActive, RetentionDeletions)
}
