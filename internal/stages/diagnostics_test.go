package stages

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"recmig/internal/config"
	"recmig/internal/pipeline"
	"recmig/internal/record"
	"recmig/internal/runstore"
)

func TestCount_GroupBy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id kind"),
		stage("b_count", "count", "group_by", "kind", "condition", `rec.id != "4"`),
	)
	h.write("in.csv", "1,org\n2,person\n3,org\n4,org\n")

	sum, err := h.run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Records != 4 || sum.Stages["b_count"] != 4 {
		t.Fatalf("summary = %+v", sum)
	}
	want := map[string]int{"org": 2, "person": 1}
	if got := h.env.Store.Counts("b_count"); !reflect.DeepEqual(got, want) {
		t.Fatalf("counts = %v, want %v", got, want)
	}
}

func TestAudit_LineIncludesCommits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "", stage("a_audit", "audit", "fields", "id name gone"))
	h.env.Store.Inc(runstore.CounterCommits, "x_load", 2)
	h.env.Store.Inc(runstore.CounterCommits, "y_load", 1)

	a := &Audit{base: newBase(h.env, h.p.Stages[0]), fields: []string{"id", "name", "gone"}}
	rec := record.FromPairs("id", int64(7), "name", nil)
	rec.Key, rec.Line, rec.Type = "people", 12, "person"

	want := `audit: people:12 type=person commits=3 id="7" name=null gone=-`
	if got := a.Line(rec); got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestAudit_ClipsOnCharacterBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "", stage("a_audit", "audit", "fields", "n"))
	a := &Audit{base: newBase(h.env, h.p.Stages[0]), fields: []string{"n"}}
	// 39 ASCII bytes then "č" (2 bytes) straddles the 40-byte limit.
	long := strings.Repeat("a", auditValueMax-1) + "čx"
	line := a.Line(record.FromPairs("n", long))

	if !utf8.ValidString(line) {
		t.Fatalf("line is not valid UTF-8: %q", line)
	}
	want := `n="` + strings.Repeat("a", auditValueMax-1) + `..."`
	if !strings.HasSuffix(line, want) {
		t.Fatalf("line = %q, want suffix %q", line, want)
	}
	if got := clip("short", auditValueMax); got != "short" {
		t.Fatalf("clip(short) = %q", got)
	}
}

func TestAudit_LogsPerRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id"),
		stage("b_audit", "audit"),
	)
	h.write("in.csv", "1\n2\n")

	if _, err := h.run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	n := 0
	for _, e := range h.log.Entries() {
		if strings.HasPrefix(e.Message, "audit: a_in:") {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("audit lines = %d, want 2", n)
	}
}

func TestAbort_StopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id"),
		stage("b_out", "csvsink", "path", "out.csv", "fields", "id"),
		stage("c_stop", "abort", "condition", `rec.id == "2"`, "message", "id 2 reached"),
	)
	h.write("in.csv", "1\n2\n3\n")

	sum, err := h.run()
	if !errors.Is(err, pipeline.ErrExplicitStop) {
		t.Fatalf("err = %v, want explicit stop", err)
	}
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != "c_stop" || se.Line != 2 {
		t.Fatalf("stage error = %#v", se)
	}
	if sum.Records != 1 {
		t.Fatalf("records before stop = %d, want 1", sum.Records)
	}
	// Rows written before the stop remain.
	if got := h.read("out.csv"); got != "\"1\"\n\"2\"\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestAbort_InactivePart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "a",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id"),
		config.Stage{Name: "stop", Kind: "abort", Part: "z"},
	)
	h.write("in.csv", "1\n")

	if sum, err := h.run(); err != nil || sum.Records != 1 {
		t.Fatalf("run = %+v, %v", sum, err)
	}
}

func TestBreakpoint_NonInteractiveContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id name"),
		stage("b_bp", "breakpoint", "condition", `rec.id == "2"`),
	)
	h.write("in.csv", "1,Ada\n2,Alan\n")

	sum, err := h.run()
	if err != nil || sum.Records != 2 {
		t.Fatalf("run = %+v, %v", sum, err)
	}
	out := h.stdout.String()
	if !strings.Contains(out, "breakpoint b_bp at a_in:2") || !strings.Contains(out, `"Alan"`) {
		t.Fatalf("dump = %q", out)
	}
	if strings.Contains(out, "press Enter") {
		t.Fatalf("waited without a terminal")
	}
}

func TestBreakpoint_InteractiveWaitsForEnter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "", stage("a_bp", "breakpoint"))
	h.env.Stdin = strings.NewReader("\n")
	b := NewBreakpoint(h.env, h.p.Stages[0])
	b.interactive = true

	in := pipeline.FromSlice(record.FromPairs("id", "1"), record.FromPairs("id", "2"))
	recs, err := pipeline.Collect(b.Apply(t.Context(), in))
	if err != nil || len(recs) != 2 {
		t.Fatalf("recs = %d, err = %v", len(recs), err)
	}
	if got := strings.Count(h.stdout.String(), "press Enter"); got != 2 {
		t.Fatalf("prompts = %d, want 2", got)
	}
	if b.interactive {
		t.Fatalf("still interactive after stdin ran dry")
	}
}
