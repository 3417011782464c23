package stages

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"recmig/internal/config"
	"recmig/internal/expr"
	"recmig/internal/logging"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

// harness is one run: an Env over a temp dir plus the stages to build.
type harness struct {
	t      *testing.T
	dir    string
	p      config.Pipeline
	env    *pipeline.Env
	log    *logging.Recorder
	stdout *bytes.Buffer
}

func newHarness(t *testing.T, parts string, stages ...config.Stage) *harness {
	t.Helper()
	eval, err := expr.New()
	if err != nil {
		t.Fatalf("expr.New: %v", err)
	}
	dir := t.TempDir()
	p := config.Pipeline{Job: "test", Parts: parts, InputDir: dir, OutputDir: dir, Stages: stages}
	rec := logging.NewRecorder()
	env := pipeline.NewEnv(p, pipeline.EnvOptions{Eval: eval, Log: rec.Logger()})
	out := &bytes.Buffer{}
	env.Stdin = bytes.NewReader(nil)
	env.Stdout = out
	return &harness{t: t, dir: dir, p: p, env: env, log: rec, stdout: out}
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

func (h *harness) write(name, content string) {
	h.t.Helper()
	if err := os.WriteFile(h.path(name), []byte(content), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", name, err)
	}
}

func (h *harness) read(name string) string {
	h.t.Helper()
	b, err := os.ReadFile(h.path(name))
	if err != nil {
		h.t.Fatalf("read %s: %v", name, err)
	}
	return string(b)
}

func (h *harness) build() []pipeline.Stage {
	h.t.Helper()
	stages, err := pipeline.Build(h.env, h.p)
	if err != nil {
		h.t.Fatalf("Build: %v", err)
	}
	return stages
}

// collect builds the chain and drains it, returning every record the last
// stage yielded.
func (h *harness) collect() ([]*record.Record, error) {
	h.t.Helper()
	ctx := context.Background()
	seq := pipeline.Empty()
	for _, s := range h.build() {
		seq = s.Apply(ctx, seq)
	}
	return pipeline.Collect(seq)
}

// run goes through the driver, as the CLI does.
func (h *harness) run() (pipeline.Summary, error) {
	h.t.Helper()
	return pipeline.Run(context.Background(), h.env, h.build())
}

func stage(name, kind string, kv ...any) config.Stage {
	o := config.Options{}
	for i := 0; i+1 < len(kv); i += 2 {
		o[kv[i].(string)] = kv[i+1]
	}
	return config.Stage{Name: name, Kind: kind, Options: o}
}

func ids(recs []*record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.String("id")
	}
	return out
}
