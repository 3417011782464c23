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
	pipeline.Register("count", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return &Count{base: newBase(env, st), groupBy: st.Options.String("group_by", "")}, nil
	})
}

// Count tallies records matching its condition into run-storage counters
// (stage name, group) and logs the totals at end of stream. Records are
// forwarded unchanged.
//
// Options: condition, group_by (field; default: a single "" group).
type Count struct {
	base
	groupBy string
}

func (c *Count) group(rec *record.Record) string {
	if c.groupBy == "" {
		return ""
	}
	v, _ := rec.Get(c.groupBy)
	return record.Text(v)
}

func (c *Count) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		var total int64
		defer func() {
			metrics.RecordRow(c.env.Job, "counted", total)
			c.report(total)
		}()
		each(ctx, in, func(rec *record.Record) (*record.Record, error) {
			if c.holds(rec, nil) {
				c.env.Store.Inc(c.name, c.group(rec), 1)
				total++
			}
			return rec, nil
		})(yield)
	}
}

func (c *Count) report(total int64) {
	groups := c.env.Store.Counts(c.name)
	if c.groupBy == "" {
		c.log.Info("count: total", "count", total)
		return
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.log.Info("count: group", "by", c.groupBy, "group", k, "count", groups[k])
	}
	c.log.Info("count: total", "count", total, "groups", len(groups))
}
