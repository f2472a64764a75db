// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from reconciliation runs.
//
//   - Backend is a narrow interface focused on counters and timing data.
//   - A global, pluggable backend defaults to a no-op implementation, so
//     metrics are always safe to call even when nothing is configured.
//   - Concrete systems (Prometheus Pushgateway, Datadog) live in subpackages
//     so the pipeline and matcher never import them.
package metrics

import "time"

// Metric names emitted by this package.
const (
	StepTotal    = "recon_step_total"
	StepDuration = "recon_step_duration_seconds"
	RecordsTotal = "recon_records_total"
	ChunksTotal  = "recon_chunks_total"
	MatchTotal   = "recon_match_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

// backend is set once at startup, before any run; it is read concurrently
// afterwards and must not be swapped while a run is in flight.
var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency and success/failure of one stage of a run
// (e.g. "pipeline", "chunk", "index", "classify").
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// Record kinds counted by RecordRows.
const (
	RowsInput     = "input"
	RowsOutput    = "output"
	RowsFailed    = "failed"
	RowsAnnotated = "annotated"
)

// RecordRows increments a record-level counter; kind is one of the Rows*
// constants.
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunks counts ingestion chunks by outcome ("ok", "failed", "skipped").
func RecordChunks(job, status string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ChunksTotal, float64(delta), Labels{
		"job":    job,
		"status": status,
	})
}

// RecordMatches counts matcher outcomes by class ("matched", "bo_only",
// "partner_only", "ambiguous").
func RecordMatches(job, class string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(MatchTotal, float64(delta), Labels{
		"job":   job,
		"class": class,
	})
}
