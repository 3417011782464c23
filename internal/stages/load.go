package stages

import (
	"context"
	"fmt"

	"recmig/internal/config"
	"recmig/internal/metrics"
	"recmig/internal/pipeline"
	"recmig/internal/record"
	"recmig/internal/runstore"
	"recmig/internal/storage"
)

const defaultBatchSize = 1000

func init() {
	pipeline.Register("load", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewLoad(env, st)
	})
}

// Load copies records into the target store in batches. Every flushed batch
// increments the run-storage counter ("commits", stage name), which audit
// lines show.
//
// Options: fields (record fields in column order; default: the storage
// columns), batch_size, auto_create_table, yield (default true), condition.
// The connection is opened on the first record.
type Load struct {
	base
	cfg        storage.Config
	fields     []string
	batchSize  int
	autoCreate bool
	yield      bool
}

func NewLoad(env *pipeline.Env, st config.Stage) (*Load, error) {
	o := st.Options
	db := env.Storage.DB
	l := &Load{
		base: newBase(env, st),
		cfg: storage.Config{
			Kind:    env.Storage.Kind,
			DSN:     db.DSN,
			Table:   db.Table,
			Columns: db.Columns,
		},
		fields:     o.Fields("fields"),
		batchSize:  o.Int("batch_size", db.BatchSize),
		autoCreate: o.Bool("auto_create_table", db.AutoCreateTable),
		yield:      o.Bool("yield", true),
	}
	if l.cfg.Kind == "" {
		return nil, fmt.Errorf("load: storage.kind is not configured")
	}
	if len(l.cfg.Columns) == 0 {
		return nil, fmt.Errorf("load: storage.db.columns is empty")
	}
	if len(l.fields) == 0 {
		l.fields = l.cfg.Columns
	}
	if len(l.fields) != len(l.cfg.Columns) {
		return nil, fmt.Errorf("load: %d fields for %d columns", len(l.fields), len(l.cfg.Columns))
	}
	if l.batchSize <= 0 {
		l.batchSize = defaultBatchSize
	}
	return l, nil
}

func (l *Load) connect(ctx context.Context) (storage.Repository, *storage.Batcher, error) {
	repo, err := storage.New(ctx, l.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load: open %s: %w", l.cfg.Kind, err)
	}
	if l.autoCreate {
		if err := storage.EnsureTable(ctx, repo, l.cfg); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("load: %w", err)
		}
	}
	b, err := storage.NewBatcher(l.cfg.Columns, l.batchSize, repo.CopyFrom, l.log)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	b.OnFlush = func(n int64) {
		l.env.Store.Inc(runstore.CounterCommits, l.name, 1)
		metrics.RecordBatches(l.env.Job, 1)
		metrics.RecordRow(l.env.Job, "loaded", n)
	}
	l.log.Info("load: connected", "kind", l.cfg.Kind, "table", l.cfg.Table, "batch_size", l.batchSize)
	return repo, b, nil
}

func (l *Load) row(rec *record.Record) []any {
	row := make([]any, len(l.fields))
	for i, f := range l.fields {
		v, _ := rec.Get(f)
		if v != nil {
			v = record.Text(v)
		}
		row[i] = v
	}
	return row
}

func (l *Load) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		var (
			repo storage.Repository
			b    *storage.Batcher
		)
		defer func() {
			if repo != nil {
				repo.Close()
			}
		}()
		fail := func(rec *record.Record, err error) {
			l.log.Error("load: failed", "table", l.cfg.Table, "err", err)
			yield(nil, pipeline.Fail(l.name, rec, err))
		}

		for rec, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if l.holds(rec, nil) {
				if b == nil {
					if repo, b, err = l.connect(ctx); err != nil {
						fail(rec, err)
						return
					}
				}
				if err := b.Add(ctx, l.row(rec)); err != nil {
					fail(rec, err)
					return
				}
				if !l.yield {
					continue
				}
			}
			if !yield(rec, nil) {
				return
			}
		}

		if b == nil {
			return
		}
		if n := b.Pending(); n > 0 {
			l.log.Debug("load: final flush", "rows", n)
			if err := b.Flush(ctx); err != nil {
				fail(nil, err)
				return
			}
		}
		l.log.Info("load: done", "rows", b.Total(), "batches", b.Batches())
	}
}
