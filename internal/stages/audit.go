package stages

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"recmig/internal/config"
	"recmig/internal/pipeline"
	"recmig/internal/record"
	"recmig/internal/runstore"
)

const auditValueMax = 40

func init() {
	pipeline.Register("audit", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return &Audit{base: newBase(env, st), fields: st.Options.Fields("fields")}, nil
	})
}

// Audit writes one fixed-format line per record:
//
//	audit: <key>:<line> type=<type> commits=<n> <field>=<value> ...
//
// commits is the running total of batches flushed by load stages. Options:
// fields (default: every field), condition.
type Audit struct {
	base
	fields []string
}

func (a *Audit) commits() int {
	n := 0
	for _, v := range a.env.Store.Counts(runstore.CounterCommits) {
		n += v
	}
	return n
}

// Line renders the audit line for rec.
func (a *Audit) Line(rec *record.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "audit: %s type=%s commits=%d", rec.Identity(), rec.Type, a.commits())
	fields := a.fields
	if len(fields) == 0 {
		fields = rec.Fields()
	}
	for _, f := range fields {
		v, ok := rec.Get(f)
		switch {
		case !ok:
			fmt.Fprintf(&b, " %s=-", f)
		case v == nil:
			fmt.Fprintf(&b, " %s=null", f)
		default:
			fmt.Fprintf(&b, " %s=%q", f, clip(record.Text(v), auditValueMax))
		}
	}
	return b.String()
}

func (a *Audit) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		if a.holds(rec, nil) {
			a.log.Info(a.Line(rec))
		}
		return rec, nil
	})
}

// clip shortens s to at most n bytes without splitting a character.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
