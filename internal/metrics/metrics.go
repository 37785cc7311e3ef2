// Package metrics is the backend-agnostic metrics facade. Core code records
// through the package functions; cmd/colmerge chooses a Backend at startup.
// Without SetBackend every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "merge", "status": "ok"}.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

// Metric names.
const (
	StepTotal           = "colmerge_step_total"
	StepDurationSeconds = "colmerge_step_duration_seconds"
	RowsTotal           = "colmerge_rows_total"
	UploadsTotal        = "colmerge_uploads_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend when it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one execution of step and observes its duration.
// status is "ok" when err is nil, "error" otherwise.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// AddRows counts rows of the given kind ("input", "output", "exported").
func AddRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// CountUploads records parsed and failed uploads.
func CountUploads(ok, failed int) {
	if ok > 0 {
		IncCounter(UploadsTotal, float64(ok), Labels{"status": "ok"})
	}
	if failed > 0 {
		IncCounter(UploadsTotal, float64(failed), Labels{"status": "failed"})
	}
}
