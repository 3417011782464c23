package stages

import (
	"context"

	"recmig/internal/config"
	"recmig/internal/metrics"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("filter", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return &Filter{base: newBase(env, st)}, nil
	})
}

// Filter drops records whose condition is false. A condition that fails to
// evaluate keeps the record.
type Filter struct{ base }

func (f *Filter) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	var dropped int64
	seq := each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		ok, err := f.env.Gate.Condition(f.cond, rec, map[string]any{"key": rec.Key})
		if err != nil {
			f.log.Error("condition failed", "record", rec.Identity(), "expr", f.cond, "err", err)
			metrics.RecordRow(f.env.Job, "expr_errors", 1)
			return rec, nil
		}
		if !ok {
			dropped++
			return nil, nil
		}
		return rec, nil
	})
	return func(yield func(*record.Record, error) bool) {
		defer func() {
			metrics.RecordRow(f.env.Job, "skipped", dropped)
			f.log.Debug("filter: done", "dropped", dropped)
		}()
		seq(yield)
	}
}
