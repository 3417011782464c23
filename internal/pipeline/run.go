package pipeline

import (
	"context"
	"errors"
	"time"

	"recmig/internal/metrics"
	"recmig/internal/record"
)

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Records int
	Elapsed time.Duration
	// Stages holds the number of records each stage yielded, by name.
	Stages map[string]int
}

// Run drains the chain built from stages. On a fatal error every CSV handle
// still open is closed and the error is returned; rows already written stay
// written.
func Run(ctx context.Context, env *Env, stages []Stage) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: env.Store.RunID, Stages: make(map[string]int, len(stages))}

	seq := Empty()
	for _, s := range stages {
		seq = observe(env, s.Name(), s.Apply(ctx, seq), sum.Stages)
	}

	var runErr error
	for _, err := range seq {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			runErr = err
			break
		}
		sum.Records++
	}
	sum.Elapsed = time.Since(start)

	if runErr != nil {
		env.Log.Error("pipeline: aborted", "records", sum.Records, "err", runErr)
		if cerr := env.Store.CloseAll(); cerr != nil {
			env.Log.Error("pipeline: close after abort", "err", cerr)
		}
	} else {
		env.Log.Info("pipeline: done", "records", sum.Records, "elapsed", sum.Elapsed)
	}
	metrics.RecordStage(env.Job, "run", runErr, sum.Elapsed)
	return sum, runErr
}

// observe counts what a stage yields and reports the stage to metrics once
// its sequence ends.
func observe(env *Env, name string, in Seq, counts map[string]int) Seq {
	return func(yield func(*record.Record, error) bool) {
		start := time.Now()
		var failed error
		defer func() {
			metrics.RecordStage(env.Job, name, failed, time.Since(start))
			env.Log.Debug("pipeline: stage finished", "stage", name, "yielded", counts[name])
		}()
		for rec, err := range in {
			if err != nil {
				var se *StageError
				if !errors.As(err, &se) {
					err = Fail(name, nil, err)
					failed = err
				} else if se.Stage == name {
					failed = err
				}
				yield(nil, err)
				return
			}
			counts[name]++
			if !yield(rec, nil) {
				return
			}
		}
	}
}
