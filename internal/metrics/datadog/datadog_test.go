package datadog

import (
	"reflect"
	"testing"

	"recmig/internal/metrics"
)

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	got := labelsToTags(metrics.Labels{"stage": "a_people", "job": "people", "status": "success"})
	want := []string{"job:people", "stage:a_people", "status:success"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labelsToTags = %v, want %v", got, want)
	}
	if labelsToTags(nil) != nil {
		t.Fatalf("labelsToTags(nil) should be nil")
	}
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatalf("expected error for empty Addr")
	}
}

func TestNilClientIsNoop(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.NameRecordsTotal, 1, metrics.Labels{"kind": "read"})
	b.ObserveHistogram(metrics.NameStageDuration, 0.2, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush on nil client: %v", err)
	}
}
