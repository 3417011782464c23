package stages

import (
	"context"
	"fmt"

	"recmig/internal/config"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("accumulate", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewAccumulate(env, st)
	})
}

// Accumulate stores a copy of each record into a run-storage table for a
// deferred csvsink.
//
// Options: table, key or key_expr (primary key), subkey or subkey_expr
// (optional second level), condition. key and subkey name fields; the
// _expr variants are expressions.
type Accumulate struct {
	base
	table   string
	key     keySpec
	sub     keySpec
	skipped int
}

type keySpec struct{ field, expr string }

func (k keySpec) empty() bool { return k.field == "" && k.expr == "" }

func NewAccumulate(env *pipeline.Env, st config.Stage) (*Accumulate, error) {
	o := st.Options
	a := &Accumulate{
		base:  newBase(env, st),
		table: o.String("table", ""),
		key:   keySpec{field: o.String("key", ""), expr: o.String("key_expr", "")},
		sub:   keySpec{field: o.String("subkey", ""), expr: o.String("subkey_expr", "")},
	}
	if a.table == "" || a.key.empty() {
		return nil, fmt.Errorf("accumulate: table and key are required")
	}
	return a, nil
}

// resolve computes a key; ok is false when the record has no usable value.
func (a *Accumulate) resolve(k keySpec, rec *record.Record) (string, bool) {
	if k.expr != "" {
		v, ok := a.env.Gate.Value(a.name, rec, k.expr, "", map[string]any{"key": rec.Key})
		if !ok || v == nil {
			return "", false
		}
		return record.Text(v), true
	}
	v, ok := rec.Get(k.field)
	if !ok || v == nil {
		return "", false
	}
	return record.Text(v), true
}

func (a *Accumulate) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	tbl := a.env.Store.Table(a.table)
	return each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		if !a.holds(rec, nil) {
			return rec, nil
		}
		key, ok := a.resolve(a.key, rec)
		if !ok {
			a.skipped++
			a.log.Warn("accumulate: no key", "record", rec.Identity(), "table", a.table)
			return rec, nil
		}
		if a.sub.empty() {
			tbl.Put(key, rec.Clone())
			return rec, nil
		}
		sub, ok := a.resolve(a.sub, rec)
		if !ok {
			a.skipped++
			a.log.Warn("accumulate: no subkey", "record", rec.Identity(), "table", a.table)
			return rec, nil
		}
		tbl.PutSub(key, sub, rec.Clone())
		return rec, nil
	})
}
