package runstore

import (
	"errors"
	"reflect"
	"testing"

	"recmig/internal/record"
)

type fakeCloser struct{ closed int }

func (f *fakeCloser) Close() error { f.closed++; return nil }

func TestStore_GetSet(t *testing.T) {
	t.Parallel()

	s := New("ab", nil)
	if s.RunID == "" {
		t.Fatalf("RunID must be set")
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	s.Set("site", "https://example.org")
	v, err := s.Get("site")
	if err != nil || v != "https://example.org" {
		t.Fatalf("Get(site) = %v, %v", v, err)
	}
}

func TestStore_CSVIsSharedByKey(t *testing.T) {
	t.Parallel()

	s := New("", nil)
	a := s.CSV("people")
	a.Path = "/tmp/people.csv"
	b := s.CSV("people")
	if a != b {
		t.Fatalf("CSV(people) returned different entries")
	}
}

func TestCSVEntry_OwnershipAndClose(t *testing.T) {
	t.Parallel()

	s := New("", nil)
	e := s.CSV("k")
	h := &fakeCloser{}
	if err := e.Attach("a_reader", h); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := e.Attach("b_other", &fakeCloser{}); err == nil {
		t.Fatalf("expected error attaching a second owner")
	}
	if err := e.MarkConsumed(); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	if e.IsOpen() || !e.Consumed || h.closed != 1 {
		t.Fatalf("after MarkConsumed: open=%v consumed=%v closed=%d", e.IsOpen(), e.Consumed, h.closed)
	}
	// Second close is a no-op.
	if err := s.CloseAll(); err != nil || h.closed != 1 {
		t.Fatalf("CloseAll: err=%v closed=%d", err, h.closed)
	}
}

func TestStore_Counters(t *testing.T) {
	t.Parallel()

	s := New("", nil)
	s.Inc("c_people", "Ann", 1)
	s.Inc("c_people", "Ann", 2)
	s.Inc("c_people", "Bob", 1)

	if got := s.Count("c_people", "Ann"); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
	want := map[string]int{"Ann": 3, "Bob": 1}
	if got := s.Counts("c_people"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Counts = %v, want %v", got, want)
	}
	snap := s.Snapshot()
	c := snap["count"].(map[string]any)["c_people"].(map[string]any)
	if c["Ann"] != int64(3) {
		t.Fatalf("snapshot count = %#v", c)
	}
}

func TestTable_KeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	tb := New("", nil).Table("groups")
	tb.PutSub("g2", "x", record.FromPairs("v", "1"))
	tb.PutSub("g1", "b", record.FromPairs("v", "2"))
	tb.PutSub("g1", "a", record.FromPairs("v", "3"))
	tb.PutSub("g1", "b", record.FromPairs("v", "4")) // replace, same position

	rows := tb.Rows()
	if len(rows) != 2 || rows[0].Key != "g2" || rows[1].Key != "g1" {
		t.Fatalf("row order = %v", rows)
	}
	if got := rows[1].SubKeys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("sub order = %v", got)
	}
	if got := rows[1].Sub("b").String("v"); got != "4" {
		t.Fatalf("sub b = %q, want 4", got)
	}
	if !rows[1].Nested() {
		t.Fatalf("row g1 should be nested")
	}
}
