package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recmig/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const copyPipeline = `job: copy
stages:
  - name: source
    kind: csvsource
    options:
      path: in.csv
      fields: [id, name]
  - name: write
    kind: csvsink
    options:
      path: out.csv
      fields: [id, name]
      header: true
`

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", copyPipeline)
	out, err := execute(t, "validate", "-c", good)
	if err != nil {
		t.Fatalf("validate good: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("output = %q", out)
	}

	bad := writeFile(t, dir, "bad.yaml", "stages:\n  - name: source\n    kind: csvsource\n")
	out, err = execute(t, "validate", "-c", bad)
	if !errors.Is(err, errInvalidConfig) {
		t.Fatalf("err = %v, want errInvalidConfig", err)
	}
	if !strings.Contains(out, string(config.SeverityError)) {
		t.Fatalf("issues not printed: %q", out)
	}
}

func TestValidate_StorageKindMustBeBuiltIn(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "oracle.yaml", copyPipeline+`storage:
  kind: oracle
  db: {dsn: "x", table: t, columns: [id]}
`)
	out, err := execute(t, "validate", "-c", cfg)
	if !errors.Is(err, errInvalidConfig) {
		t.Fatalf("err = %v, want errInvalidConfig", err)
	}
	if !strings.Contains(out, `unknown storage kind "oracle"`) || !strings.Contains(out, "mssql, postgres, sqlite") {
		t.Fatalf("issues = %q", out)
	}

	ok := writeFile(t, dir, "sqlite.yaml", copyPipeline+`storage:
  kind: sqlite
  db: {dsn: "x.db", table: t, columns: [id]}
`)
	if _, err := execute(t, "validate", "-c", ok); err != nil {
		t.Fatalf("sqlite storage rejected: %v", err)
	}
}

func TestRun_CopiesRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in.csv", "1,Ann\n2,Bob\n")
	cfg := writeFile(t, dir, "pipeline.yaml", copyPipeline)

	if _, err := execute(t, "run", "-c", cfg, "--metrics-backend", "none"); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	got := string(b)
	for _, want := range []string{`"id","name"`, `"1","Ann"`, `"2","Bob"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %s:\n%s", want, got)
		}
	}
}

func TestRun_PartsOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "in.csv", "1,Ann\n")
	cfg := writeFile(t, dir, "pipeline.yaml", copyPipeline)

	// only the source part is active, so nothing is written.
	if _, err := execute(t, "run", "-c", cfg, "--parts", "s", "--metrics-backend", "none"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.csv")); !os.IsNotExist(err) {
		t.Fatalf("sink ran although its part was disabled: %v", err)
	}

	t.Setenv(partsEnv, "sw")
	if _, err := execute(t, "run", "-c", cfg, "--metrics-backend", "none"); err != nil {
		t.Fatalf("run with env parts: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.csv")); err != nil {
		t.Fatalf("sink did not run: %v", err)
	}
}

func TestRun_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "pipeline.json", `{"stages":[{"name":"x","kind":"csvsink"}]}`)
	if _, err := execute(t, "run", "-c", cfg); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("err = %v, want errInvalidConfig", err)
	}
}

func TestFixed2CSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "people.txt", "id  |name      |city\n"+
		"----|----------|----\n"+
		"   1|Ann       |Brno\n"+
		"  22|Bob       |Zlin\n"+
		"\n"+
		"(2 rows affected)\n")
	list := writeFile(t, dir, "inputs.lst", "# exports\npeople.txt\n")
	outDir := t.TempDir()

	out, err := execute(t, "fixed2csv", "--list", list, "--out", outDir, "--line-numbers")
	if err != nil {
		t.Fatalf("fixed2csv: %v", err)
	}
	if !strings.Contains(out, "produced=2") {
		t.Fatalf("summary = %q", out)
	}
	b, err := os.ReadFile(filepath.Join(outDir, "people.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := "\"line\",\"id\",\"name\",\"city\"\n\"3\",\"1\",\"Ann\",\"Brno\"\n\"4\",\"22\",\"Bob\",\"Zlin\"\n"
	if string(b) != want {
		t.Fatalf("csv = %q\nwant %q", b, want)
	}
}

func TestFixed2CSV_Args(t *testing.T) {
	if _, err := execute(t, "fixed2csv"); err == nil {
		t.Fatal("expected error without inputs")
	}
	if _, err := execute(t, "fixed2csv", "--sep", "||", "x.txt"); err == nil {
		t.Fatal("expected error for multi-character separator")
	}
}

func TestOutputJobs(t *testing.T) {
	jobs := outputJobs([]string{"/a/b/dump.txt", "rel/x"}, "")
	if jobs[0].Out != "/a/b/dump.csv" || jobs[1].Out != filepath.Join("rel", "x.csv") {
		t.Fatalf("jobs = %+v", jobs)
	}
	jobs = outputJobs([]string{"/a/b/dump.txt"}, "/out")
	if jobs[0].Out != "/out/dump.csv" {
		t.Fatalf("jobs = %+v", jobs)
	}
}
