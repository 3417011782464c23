package stages

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"recmig/internal/pipeline"
)

func TestCSVSource_AppendsAfterUpstream(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_people", "csvsource", "path", "a.csv", "fields", "id name _ email", "none", "NULL", "type", "person"),
		stage("b_more", "csvsource", "path", "b.csv", "fields", "id name _1 email"),
	)
	h.write("a.csv", "1, Ada ,x,ada@example.com\n2,Alan,y,NULL\n")
	h.write("b.csv", "3,Grace,z,grace@example.com\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Fatalf("ids = %v", got)
	}

	first := recs[0]
	if first.Key != "a_people" || first.Line != 1 || first.Type != "person" {
		t.Fatalf("metadata = %q %d %q", first.Key, first.Line, first.Type)
	}
	if got := first.Fields(); !reflect.DeepEqual(got, []string{"id", "name", "email"}) {
		t.Fatalf("fields = %v (placeholder not stripped)", got)
	}
	if first.String("name") != "Ada" {
		t.Fatalf("name = %q, want trimmed", first.String("name"))
	}
	if v, ok := recs[1].Get("email"); !ok || v != nil {
		t.Fatalf("none sentinel: email = %#v, %v", v, ok)
	}
	if recs[2].Key != "b_more" || recs[2].Line != 1 {
		t.Fatalf("third record = %s", recs[2].Identity())
	}

	e := h.env.Store.CSV("a_people")
	if !e.Consumed || e.IsOpen() {
		t.Fatalf("entry consumed=%v open=%v", e.Consumed, e.IsOpen())
	}
	if !reflect.DeepEqual(e.Fields, []string{"id", "name", "email"}) {
		t.Fatalf("declared fields after first row = %v", e.Fields)
	}
}

func TestCSVSource_ExtraColumn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		strict  bool
		content string
	}{
		{"strict_extra", true, "1,Ada,surplus\n2,Alan\n"},
		{"strict_missing", true, "1\n2,Alan\n"},
		{"lenient_extra", false, "1,Ada,surplus\n2,Alan\n"},
		{"lenient_missing", false, "1\n2,Alan\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "",
				stage("a_bad", "csvsource", "path", "bad.csv", "fields", "id name", "strict", tc.strict),
				stage("b_good", "csvsource", "path", "good.csv", "fields", "id name"),
				stage("c_count", "count"),
			)
			h.write("bad.csv", tc.content)
			h.write("good.csv", "9,Grace\n")

			sum, err := h.run()
			if tc.strict {
				if !errors.Is(err, pipeline.ErrSchemaMismatch) {
					t.Fatalf("err = %v, want schema mismatch", err)
				}
				var se *pipeline.StageError
				if !errors.As(err, &se) || se.Stage != "a_bad" || se.Line != 1 {
					t.Fatalf("stage error = %#v", se)
				}
				if e := h.env.Store.CSV("a_bad"); e.IsOpen() {
					t.Fatalf("handle left open after abort")
				}
				return
			}
			if err != nil {
				t.Fatalf("lenient run: %v", err)
			}
			if sum.Records != 1 {
				t.Fatalf("records = %d, want only the good file's row", sum.Records)
			}
			if h.log.Count(slog.LevelError) != 1 {
				t.Fatalf("error logs = %d, want 1", h.log.Count(slog.LevelError))
			}
		})
	}
}

func TestCSVSource_SkipHeaderAndBadLaterRows(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_people", "csvsource", "path", "p.csv", "fields", "id name", "skip_header", true),
	)
	h.write("p.csv", "id,name\n1,Ada\n2,Alan,extra\n\"3\",\"Grace\"\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("ids = %v", got)
	}
	if recs[1].Line != 4 {
		t.Fatalf("line = %d, want 4", recs[1].Line)
	}
	if h.log.Count(slog.LevelWarn) != 1 {
		t.Fatalf("warnings = %d, want 1", h.log.Count(slog.LevelWarn))
	}
}

func TestCSVSource_DialectAndCondition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_people", "csvsource", "path", "p.csv", "fields", "id name",
			"delimiter", ";", "encoding", "windows-1250", "condition", `rec.id != "2"`),
	)
	// "Žofie" in windows-1250.
	h.write("p.csv", "1;\x8eofie\n2;Alan\n3;Grace\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("ids = %v", got)
	}
	if recs[0].String("name") != "Žofie" {
		t.Fatalf("decoded name = %q", recs[0].String("name"))
	}
}

func TestCSVSource_CustomQuote(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_in", "csvsource", "path", "q.csv", "fields", "id name", "quote", "'"),
	)
	h.write("q.csv", "1,'Smith, Ann'\n2,'O''Neil'\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(recs) != 2 || recs[0].String("name") != "Smith, Ann" || recs[1].String("name") != "O'Neil" {
		t.Fatalf("records = %v", recs)
	}
}

func TestCSVSource_MissingFilePassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_people", "csvsource", "path", "p.csv", "fields", "id"),
		stage("b_gone", "csvsource", "path", "nope.csv", "fields", "id"),
	)
	h.write("p.csv", "1\n")

	recs, err := h.collect()
	if err != nil || len(recs) != 1 {
		t.Fatalf("recs = %d, err = %v", len(recs), err)
	}
	if h.log.Count(slog.LevelWarn) != 1 {
		t.Fatalf("warnings = %d, want 1", h.log.Count(slog.LevelWarn))
	}
}

func TestCSVSource_InactivePartIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "a",
		stage("a_people", "csvsource", "path", "p.csv", "fields", "id"),
		stage("b_more", "csvsource", "path", "q.csv", "fields", "id"),
	)
	h.write("p.csv", "1\n")
	h.write("q.csv", "2\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("ids = %v", got)
	}
	if e := h.env.Store.CSV("b_more"); e.Consumed || e.IsOpen() {
		t.Fatalf("inactive source touched its file")
	}
}

func TestCSVSource_SameKeyReadOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "",
		stage("a_people", "csvsource", "key", "people", "path", "p.csv", "fields", "id"),
		stage("b_again", "csvsource", "key", "people", "path", "p.csv", "fields", "id"),
	)
	h.write("p.csv", "1\n2\n")

	recs, err := h.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(recs); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("ids = %v", got)
	}
}
