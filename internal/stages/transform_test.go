package stages

import (
	"log/slog"
	"reflect"
	"testing"
)

// A failing value expression with a fallback yields the fallback's value
// and exactly one error entry.
func TestAssign_FallbackAfterFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id name"),
		stage("b_fix", "assign",
			"fields", map[string]any{"label": `rec.missing + "!"`, "upper": `rec.name.upperAscii()`},
			"fallback", map[string]any{"label": `"n/a:" + rec.id`},
		),
	)
	h.write("in.csv", "1,ada\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	r := recs[0]
	if r.String("label") != "n/a:1" || r.String("upper") != "ADA" {
		t.Fatalf("record = %v", r.Map())
	}
	if n := h.log.Count(slog.LevelError); n != 1 {
		t.Fatalf("error entries = %d, want 1", n)
	}
	e := h.log.Entries()[0]
	for _, en := range h.log.Entries() {
		if en.Level == slog.LevelError {
			e = en
		}
	}
	if e.Attrs["stage"] != "b_fix" || e.Attrs["record"] != "a_in:1" {
		t.Fatalf("error attrs = %v", e.Attrs)
	}
}

func TestAssign_NoFallbackLeavesRecordUnmodified(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id name"),
		stage("b_fix", "assign", "fields", map[string]any{
			"name":  `"changed"`,
			"score": `rec.name / 2`,
		}),
	)
	h.write("in.csv", "1,ada\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := recs[0].Fields(); !reflect.DeepEqual(got, []string{"id", "name"}) || recs[0].String("name") != "ada" {
		t.Fatalf("record changed: %v", recs[0].Map())
	}
}

func TestAssign_UsesVarsAndStorage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id"),
		stage("b_count", "count"),
		stage("c_fix", "assign", "fields", map[string]any{
			"seen": `storage.count.b_count[""]`,
			"src":  `key`,
		}),
	)
	h.write("in.csv", "1\n2\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, _ := recs[1].Get("seen"); v != int64(2) {
		t.Fatalf("seen = %#v, want running count 2", v)
	}
	if recs[0].String("src") != "a_in" {
		t.Fatalf("src = %q", recs[0].String("src"))
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id kind"),
		stage("b_keep", "filter", "condition", `rec.kind == "org"`),
	)
	h.write("in.csv", "1,org\n2,person\n3,org\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("ids = %v", got)
	}
}

func TestAccumulate_StoresClones(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id org"),
		stage("b_acc", "accumulate", "table", "by_org", "key_expr", `rec.org.upperAscii()`),
		stage("c_fix", "assign", "fields", map[string]any{"org": `"changed"`}),
	)
	h.write("in.csv", "1,acme\n2,\n3,zeta\n")

	if _, err := h.collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	tbl := h.env.Store.Table("by_org")
	if tbl.Len() != 3 {
		t.Fatalf("table len = %d", tbl.Len())
	}
	row, ok := tbl.Get("ACME")
	if !ok || row.Record.String("org") != "acme" {
		t.Fatalf("stored row aliased by later mutation: %v", row)
	}
}

func TestAccumulate_MissingKeyIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id org", "none", ""),
		stage("b_acc", "accumulate", "table", "by_org", "key", "org"),
	)
	h.write("in.csv", "1,acme\n2,\n")

	recs, err := h.collect()
	if err != nil || len(recs) != 2 {
		t.Fatalf("recs = %d, err = %v", len(recs), err)
	}
	if n := h.env.Store.Table("by_org").Len(); n != 1 {
		t.Fatalf("table len = %d, want 1", n)
	}
	if h.log.Count(slog.LevelWarn) != 1 {
		t.Fatalf("warnings = %d", h.log.Count(slog.LevelWarn))
	}
}

func TestUnique(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "in.csv", "fields", "id pcv date"),
		stage("b_uniq", "unique", "fields", "pcv date"),
	)
	h.write("in.csv", "1,A,2020\n2,A,2021\n3,A,2020\n4,B,2020\n5,A,2021\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "2", "4"}) {
		t.Fatalf("ids = %v", got)
	}
}

func TestUnique_RequiresFields(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "", stage("a_uniq", "unique"))
	if _, err := NewUnique(h.env, h.p.Stages[0]); err == nil {
		t.Fatal("expected error without key fields")
	}
}
