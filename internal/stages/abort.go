package stages

import (
	"context"
	"fmt"

	"recmig/internal/config"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("abort", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return &Abort{base: newBase(env, st), message: st.Options.String("message", "")}, nil
	})
}

// Abort stops the run with ErrExplicitStop on the first record matching its
// condition. Options: condition, message.
type Abort struct {
	base
	message string
}

func (a *Abort) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		if !a.holds(rec, nil) {
			return rec, nil
		}
		err := pipeline.ErrExplicitStop
		if a.message != "" {
			err = fmt.Errorf("%w: %s", err, a.message)
		}
		a.log.Error("abort: condition matched", "record", rec.Identity(), "expr", a.cond, "message", a.message)
		return nil, pipeline.Fail(a.name, rec, err)
	})
}
