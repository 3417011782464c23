package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"recmig/internal/config"
	"recmig/internal/gate"
	"recmig/internal/logging"
	"recmig/internal/record"
	"recmig/internal/runstore"
)

// Resolver finds the target-store object a record maps to.
type Resolver interface {
	Resolve(ctx context.Context, rec *record.Record) (any, bool)
}

// OrgDirectory supplies organization data: every organization by id, and an
// index from external id to id.
type OrgDirectory interface {
	LookupOrganizations() (byID map[string]*record.Record, byEID map[string]string)
}

// Env is everything a stage may use besides its own options. One Env exists
// per run and is passed to every stage factory.
type Env struct {
	Job       string
	InputDir  string
	OutputDir string
	Storage   config.Storage

	Store    *runstore.Store
	Gate     *gate.Gate
	Log      *slog.Logger
	Resolver Resolver
	Orgs     OrgDirectory

	// Stdin and Stdout are used by interactive stages.
	Stdin  io.Reader
	Stdout io.Writer

	orgs map[string]any
}

// EnvOptions carries the collaborators NewEnv cannot derive from the
// pipeline file.
type EnvOptions struct {
	Eval     gate.Evaluator
	Log      *slog.Logger
	Resolver Resolver
	Orgs     OrgDirectory
}

// NewEnv creates the run storage for p and the gate bound to it. Pipeline
// vars are seeded into storage.
func NewEnv(p config.Pipeline, o EnvOptions) *Env {
	log := o.Log
	if log == nil {
		log = logging.Discard()
	}
	store := runstore.New(p.Parts, p.Vars)
	for k, v := range p.Vars {
		store.Set(k, v)
	}

	env := &Env{
		Job:       p.Job,
		InputDir:  p.InputDir,
		OutputDir: p.OutputDir,
		Storage:   p.Storage,
		Store:     store,
		Resolver:  o.Resolver,
		Orgs:      o.Orgs,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
	}
	env.Log = log.With("run", store.RunID)
	env.Gate = gate.New(o.Eval, env.Log, env.globals)
	return env
}

// Logger returns the run logger tagged with stage.
func (e *Env) Logger(stage string) *slog.Logger {
	return e.Log.With("stage", stage)
}

// InputPath resolves p against InputDir unless it is absolute.
func (e *Env) InputPath(p string) string { return resolve(e.InputDir, p) }

// OutputPath resolves p against OutputDir unless it is absolute.
func (e *Env) OutputPath(p string) string { return resolve(e.OutputDir, p) }

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// Target resolves rec through the Resolver; nil when there is none.
func (e *Env) Target(ctx context.Context, rec *record.Record) any {
	if e.Resolver == nil {
		return nil
	}
	v, ok := e.Resolver.Resolve(ctx, rec)
	if !ok {
		return nil
	}
	return v
}

// globals are the bindings every expression sees.
func (e *Env) globals() map[string]any {
	return map[string]any{
		"vars":    map[string]any(e.Store.Config()),
		"storage": e.Store.Snapshot(),
		"parts":   e.Store.Parts(),
		"orgs":    e.orgBindings(),
	}
}

// orgBindings converts the directory once: {"id": {id: rec}, "eid": {eid: id}}.
func (e *Env) orgBindings() map[string]any {
	if e.orgs != nil {
		return e.orgs
	}
	byIDOut := map[string]any{}
	byEIDOut := map[string]any{}
	if e.Orgs != nil {
		byID, byEID := e.Orgs.LookupOrganizations()
		for id, r := range byID {
			byIDOut[id] = r.Map()
		}
		for eid, id := range byEID {
			byEIDOut[eid] = id
		}
	}
	e.orgs = map[string]any{"id": byIDOut, "eid": byEIDOut}
	return e.orgs
}
