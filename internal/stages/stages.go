// Package stages holds the concrete pipeline stages. Each file registers its
// kind with the pipeline registry from init; importing the package (usually
// blank) makes every kind available to pipeline.Build.
//
// Options common to most stages:
//
//	condition  CEL expression; records for which it is false are left alone
//	part       explicit part code (default: first letter of the stage name)
package stages

import (
	"context"
	"log/slog"

	"recmig/internal/config"
	"recmig/internal/metrics"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

// base carries what every stage needs.
type base struct {
	name string
	cond string
	env  *pipeline.Env
	log  *slog.Logger
}

func newBase(env *pipeline.Env, st config.Stage) base {
	return base{
		name: st.Name,
		cond: st.Options.String("condition", ""),
		env:  env,
		log:  env.Logger(st.Name),
	}
}

func (b *base) Name() string { return b.name }

// holds evaluates the stage condition for rec. A failing condition is logged
// and reported as not holding.
func (b *base) holds(rec *record.Record, extras map[string]any) bool {
	ok, err := b.env.Gate.Condition(b.cond, rec, extras)
	if err != nil {
		b.log.Error("condition failed", "record", rec.Identity(), "expr", b.cond, "err", err)
		metrics.RecordRow(b.env.Job, "expr_errors", 1)
		return false
	}
	return ok
}

// each maps fn over in. fn returns the record to forward (nil drops it) or a
// fatal error.
func each(ctx context.Context, in pipeline.Seq, fn func(rec *record.Record) (*record.Record, error)) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		for rec, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			out, err := fn(rec)
			if err != nil {
				yield(nil, err)
				return
			}
			if out == nil {
				continue
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}
