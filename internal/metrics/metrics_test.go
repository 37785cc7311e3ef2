package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type event struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu      sync.Mutex
	events  []event
	flushed int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"counter", name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"histogram", name, value, labels})
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

// Tests in this file mutate the package backend and must not run in parallel.

func TestDefaultBackendIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	ObserveHistogram(StepDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}

func TestRecordStep(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("merge", time.Now(), nil)
	RecordStep("save", time.Now(), errors.New("disk full"))

	if len(r.events) != 4 {
		t.Fatalf("events=%d want 4", len(r.events))
	}
	if r.events[0].name != StepTotal || r.events[0].labels["status"] != "ok" || r.events[0].labels["step"] != "merge" {
		t.Fatalf("unexpected first event: %+v", r.events[0])
	}
	if r.events[1].name != StepDurationSeconds || r.events[1].value < 0 {
		t.Fatalf("unexpected duration event: %+v", r.events[1])
	}
	if r.events[2].labels["status"] != "error" {
		t.Fatalf("error status not recorded: %+v", r.events[2])
	}
}

func TestAddRowsAndUploads(t *testing.T) {
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	AddRows("output", 0)
	AddRows("output", 3)
	CountUploads(2, 0)
	CountUploads(0, 1)

	want := []event{
		{"counter", RowsTotal, 3, Labels{"kind": "output"}},
		{"counter", UploadsTotal, 2, Labels{"status": "ok"}},
		{"counter", UploadsTotal, 1, Labels{"status": "failed"}},
	}
	if len(r.events) != len(want) {
		t.Fatalf("events=%+v", r.events)
	}
	for i, w := range want {
		got := r.events[i]
		if got.name != w.name || got.value != w.value || got.labels[firstKey(w.labels)] != w.labels[firstKey(w.labels)] {
			t.Fatalf("event[%d]=%+v want %+v", i, got, w)
		}
	}

	if err := Flush(); err != nil || r.flushed != 1 {
		t.Fatalf("Flush err=%v flushed=%d", err, r.flushed)
	}
}

func firstKey(l Labels) string {
	for k := range l {
		return k
	}
	return ""
}
