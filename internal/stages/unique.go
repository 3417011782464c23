package stages

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"

	"recmig/internal/config"
	"recmig/internal/metrics"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("unique", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewUnique(env, st)
	})
}

// Unique drops records whose key fields were already seen; the first
// occurrence wins. Records missing a key field pass through untouched.
//
// Options: fields, condition.
type Unique struct {
	base
	fields []string
}

func NewUnique(env *pipeline.Env, st config.Stage) (*Unique, error) {
	u := &Unique{base: newBase(env, st), fields: st.Options.Fields("fields")}
	if len(u.fields) == 0 {
		return nil, fmt.Errorf("unique: no key fields")
	}
	return u, nil
}

// keyOf concatenates the key values (nil → "\x00") with an unlikely
// separator.
func (u *Unique) keyOf(rec *record.Record) ([]byte, bool) {
	var b []byte
	for i, f := range u.fields {
		v, ok := rec.Get(f)
		if !ok {
			return nil, false
		}
		if i > 0 {
			b = append(b, '\x1f')
		}
		if v == nil {
			b = append(b, '\x00')
			continue
		}
		b = append(b, record.Text(v)...)
	}
	return b, true
}

func (u *Unique) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		seen := map[xxh3.Uint128]struct{}{}
		var dups int64
		defer func() {
			metrics.RecordRow(u.env.Job, "skipped", dups)
			u.log.Info("unique: done", "distinct", len(seen), "duplicates", dups)
		}()

		each(ctx, in, func(rec *record.Record) (*record.Record, error) {
			if !u.holds(rec, nil) {
				return rec, nil
			}
			k, ok := u.keyOf(rec)
			if !ok {
				return rec, nil
			}
			h := xxh3.Hash128(k)
			if _, dup := seen[h]; dup {
				dups++
				u.log.Debug("unique: duplicate", "record", rec.Identity())
				return nil, nil
			}
			seen[h] = struct{}{}
			return rec, nil
		})(yield)
	}
}
