// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from a migration run.
//
// A global, pluggable backend defaults to a no-op implementation, so metrics
// are always safe to call even when no real backend is configured. Concrete
// systems (Prometheus Pushgateway, Datadog) live in subpackages and are
// installed by the CLI with SetBackend.
package metrics

import "time"

// Metric names shared by every backend.
const (
	NameStageTotal    = "recmig_stage_total"
	NameStageDuration = "recmig_stage_duration_seconds"
	NameRecordsTotal  = "recmig_records_total"
	NameBatchesTotal  = "recmig_batches_total"
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

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

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

// RecordStage measures latency + success/failure for one stage (or for the
// whole run, with stage "run").
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter(NameStageTotal, 1, lbls)
	backend.ObserveHistogram(NameStageDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds used by the stages:
//   - "read"      rows produced by csv sources
//   - "written"   rows written by csv sinks
//   - "skipped"   rows dropped for a bad width or a failed condition
//   - "counted"   rows tallied by count stages
//   - "loaded"    rows copied into the target store
//   - "expr_errors" expression failures
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(NameRecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments a batch-level counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(NameBatchesTotal, float64(delta), Labels{
		"job": job,
	})
}
