// Package metrics exposes Prometheus instrumentation for the sort and
// pipelining subsystems, following the naming and registration style of
// pingcap/tidb's pkg/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RunsFormed counts internal runs flushed to a sorted run file.
	RunsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "extflow",
		Subsystem: "sort",
		Name:      "runs_formed_total",
		Help:      "Number of sorted run files written during run formation.",
	})

	// MergePasses counts merge batches executed during the merge phase.
	MergePasses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "extflow",
		Subsystem: "sort",
		Name:      "merge_passes_total",
		Help:      "Number of k-way merge batches executed.",
	})

	// TempBytesInUse is the current bytes occupied by live sorter temp files.
	TempBytesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "extflow",
		Subsystem: "sort",
		Name:      "temp_bytes_in_use",
		Help:      "Bytes currently occupied by sorter temp files across all sorters.",
	})

	// ItemsSorted counts items that have passed through end_run's sort step.
	ItemsSorted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "extflow",
		Subsystem: "sort",
		Name:      "items_sorted_total",
		Help:      "Number of items sorted across all runs.",
	})

	// PhaseDuration observes wall time spent executing one pipeline phase.
	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "extflow",
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Wall time spent executing a single pipeline phase.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
	}, []string{"phase"})

	// PhasesExecuted counts phases run to completion.
	PhasesExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "extflow",
		Subsystem: "pipeline",
		Name:      "phases_executed_total",
		Help:      "Number of phases executed to completion.",
	})
)

func init() {
	prometheus.MustRegister(
		RunsFormed,
		MergePasses,
		TempBytesInUse,
		ItemsSorted,
		PhaseDuration,
		PhasesExecuted,
	)
}
