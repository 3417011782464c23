package stages

import (
	"context"
	"sort"

	"recmig/internal/config"
	"recmig/internal/metrics"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("assign", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewAssign(env, st), nil
	})
}

// Assign sets fields from expressions.
//
// Options: fields (field → expression), fallback (field → expression used
// when the first one fails), condition. When a field cannot be computed at
// all, the record is forwarded without any of this stage's changes.
type Assign struct {
	base
	names    []string
	exprs    map[string]string
	fallback map[string]string
}

func NewAssign(env *pipeline.Env, st config.Stage) *Assign {
	a := &Assign{
		base:     newBase(env, st),
		exprs:    st.Options.StringMap("fields"),
		fallback: st.Options.StringMap("fallback"),
	}
	for k := range a.exprs {
		a.names = append(a.names, k)
	}
	sort.Strings(a.names)
	return a
}

func (a *Assign) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		extras := map[string]any{"key": rec.Key, "target": a.env.Target(ctx, rec)}
		if len(a.names) == 0 || !a.holds(rec, extras) {
			return rec, nil
		}

		values := make([]any, len(a.names))
		for i, name := range a.names {
			v, ok := a.env.Gate.Value(a.name, rec, a.exprs[name], a.fallback[name], extras)
			if !ok {
				metrics.RecordRow(a.env.Job, "expr_errors", 1)
				return rec, nil
			}
			values[i] = v
		}
		for i, name := range a.names {
			rec.Set(name, values[i])
		}
		return rec, nil
	})
}
