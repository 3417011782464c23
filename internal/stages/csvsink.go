package stages

import (
	"context"
	"fmt"
	"os"
	"sort"

	"recmig/internal/config"
	"recmig/internal/datasource/file"
	"recmig/internal/metrics"
	csvparser "recmig/internal/parser/csv"
	"recmig/internal/pipeline"
	"recmig/internal/record"
	"recmig/internal/runstore"
)

// NoSort disables ordering of a deferred sink; rows keep insertion order.
const NoSort = "__no_sort__"

func init() {
	pipeline.Register("csvsink", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewCSVSink(env, st)
	})
}

// CSVSink writes records to a CSV file.
//
// In streaming mode each record whose condition holds becomes one row. With
// "table" (or "store_key") set the sink is deferred: it writes the rows an
// accumulate stage collected in that run-storage table, once, sorted by
// sort_key.
//
// Options: key, path, fields, header (true or a label list), append, yield
// (default true), condition, table/store_key, sort_key, none and the csv
// dialect keys.
type CSVSink struct {
	base
	key     string
	path    string
	fields  []string
	header  []string
	append  bool
	yield   bool
	none    string
	table   string
	sortKey string
	dialect csvparser.Dialect
	entry   *runstore.CSVEntry

	w       *csvparser.Writer
	written int64
}

// NewCSVSink builds a sink from its stage configuration. The file is not
// touched until the first row is written.
func NewCSVSink(env *pipeline.Env, st config.Stage) (*CSVSink, error) {
	o := st.Options
	s := &CSVSink{
		base:    newBase(env, st),
		key:     o.String("key", st.Name),
		path:    env.OutputPath(o.String("path", "")),
		fields:  o.Fields("fields"),
		append:  o.Bool("append", false),
		yield:   o.Bool("yield", true),
		none:    o.String("none", ""),
		table:   o.String("table", o.String("store_key", "")),
		sortKey: o.String("sort_key", "sort_key"),
	}
	if len(s.fields) == 0 {
		return nil, fmt.Errorf("csvsink: no fields declared")
	}
	if s.path == "" {
		return nil, fmt.Errorf("csvsink: no path")
	}
	switch h := o.Any("header").(type) {
	case bool:
		if h {
			s.header = s.fields
		}
	case nil:
	default:
		s.header = o.Fields("header")
		if len(s.header) != len(s.fields) {
			return nil, fmt.Errorf("csvsink: %d header labels for %d fields", len(s.header), len(s.fields))
		}
	}

	d, err := csvparser.DialectFromOptions(o)
	if err != nil {
		return nil, fmt.Errorf("csvsink: %w", err)
	}
	s.dialect = d

	s.entry = env.Store.CSV(s.key)
	s.entry.Path = s.path
	s.entry.Fields = s.fields
	s.entry.Header = s.header
	s.entry.Dialect = d
	s.entry.Append = s.append
	s.entry.HeaderPending = s.header != nil
	return s, nil
}

// Close flushes and closes the output if this stage holds it.
func (s *CSVSink) Close() error {
	if s.entry.Owner() == s.name {
		return s.entry.Close()
	}
	return nil
}

// handle ties the buffered writer to its file so closing through the run
// storage entry flushes first.
type handle struct {
	w *csvparser.Writer
	f *os.File
}

func (h *handle) Close() error {
	err := h.w.Close()
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// open creates or appends to the file on first use and writes the header
// when one is due.
func (s *CSVSink) open(ctx context.Context) error {
	if s.entry.IsOpen() {
		if s.entry.Owner() == s.name {
			return nil
		}
		return fmt.Errorf("csv %q already opened by stage %q", s.key, s.entry.Owner())
	}
	loc := file.NewLocal(s.path)
	var (
		f     *os.File
		fresh = true
		err   error
	)
	if s.append {
		f, fresh, err = loc.Append(ctx)
	} else {
		f, err = loc.Create(ctx)
	}
	if err != nil {
		return err
	}
	w, err := csvparser.NewWriter(f, s.dialect)
	if err != nil {
		f.Close()
		return err
	}
	if err := s.entry.Attach(s.name, &handle{w: w, f: f}); err != nil {
		f.Close()
		return err
	}
	s.w = w
	s.log.Info("csvsink: opened", "key", s.key, "path", s.path, "append", s.append, "fresh", fresh)

	if s.entry.HeaderPending {
		s.entry.HeaderPending = false
		if fresh {
			return w.Write(s.header)
		}
	}
	return nil
}

func (s *CSVSink) write(ctx context.Context, rec *record.Record) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	row := make([]string, len(s.fields))
	for i, f := range s.fields {
		v, ok := rec.Get(f)
		if !ok || v == nil {
			row[i] = s.none
			continue
		}
		row[i] = record.Text(v)
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.written++
	return nil
}

func (s *CSVSink) fail(rec *record.Record, err error) error {
	err = fmt.Errorf("csvsink: %s: %w", s.path, err)
	s.log.Error("csvsink: write failed", "key", s.key, "err", err)
	return pipeline.Fail(s.name, rec, err)
}

// finish closes the output at end of stream.
func (s *CSVSink) finish() {
	metrics.RecordRow(s.env.Job, "written", s.written)
	if s.entry.Owner() != s.name {
		return
	}
	if err := s.entry.Close(); err != nil {
		s.log.Error("csvsink: close failed", "key", s.key, "err", err)
		return
	}
	s.log.Info("csvsink: closed", "key", s.key, "rows", s.written)
}

func (s *CSVSink) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	if s.table != "" {
		return s.deferred(ctx, in)
	}
	return func(yield func(*record.Record, error) bool) {
		defer s.finish()
		for rec, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if s.holds(rec, nil) {
				if err := s.write(ctx, rec); err != nil {
					yield(nil, s.fail(rec, err))
					return
				}
				if !s.yield {
					continue
				}
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *CSVSink) deferred(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		defer s.finish()
		tbl := s.env.Store.Table(s.table)

		flushed := false
		if tbl.Len() > 0 {
			if err := s.flush(ctx, tbl); err != nil {
				yield(nil, s.fail(nil, err))
				return
			}
			flushed = true
		}
		size := tbl.Len()

		for rec, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if !s.yield {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}

		if !flushed {
			if err := s.flush(ctx, tbl); err != nil {
				yield(nil, s.fail(nil, err))
			}
			return
		}
		if tbl.Len() != size {
			s.log.Warn("csvsink: table grew after flush; extra rows not written",
				"table", s.table, "flushed", size, "now", tbl.Len())
		}
	}
}

// flush writes every stored record, ordered by sort key.
func (s *CSVSink) flush(ctx context.Context, tbl *runstore.Table) error {
	rows := tbl.Rows()
	if s.sortKey != NoSort {
		sort.SliceStable(rows, func(i, j int) bool {
			return less(s.rowSortValue(rows[i]), s.rowSortValue(rows[j]))
		})
	}

	n := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, rec := range s.ordered(row) {
			if !s.holds(rec, nil) {
				continue
			}
			if err := s.write(ctx, rec); err != nil {
				return err
			}
			n++
		}
	}
	s.log.Info("csvsink: flushed table", "table", s.table, "keys", len(rows), "rows", n)
	return nil
}

// ordered returns the records of one table row; the inner level of a
// two-level row is sorted like the outer one.
func (s *CSVSink) ordered(row *runstore.Row) []*record.Record {
	if !row.Nested() {
		if row.Record == nil {
			return nil
		}
		return []*record.Record{row.Record}
	}
	subs := append([]string(nil), row.SubKeys()...)
	if s.sortKey != NoSort {
		sort.SliceStable(subs, func(i, j int) bool {
			return less(s.sortValue(row.Sub(subs[i]), subs[i]), s.sortValue(row.Sub(subs[j]), subs[j]))
		})
	}
	out := make([]*record.Record, 0, len(subs))
	for _, k := range subs {
		out = append(out, row.Sub(k))
	}
	return out
}

func (s *CSVSink) rowSortValue(row *runstore.Row) any {
	if row.Nested() {
		return row.Key
	}
	return s.sortValue(row.Record, row.Key)
}

// sortValue is the record's sort_key field, falling back to its table key.
func (s *CSVSink) sortValue(rec *record.Record, key string) any {
	if rec != nil {
		if v, ok := rec.Get(s.sortKey); ok && v != nil {
			return v
		}
	}
	return key
}

// less orders integers numerically and before every other value, which
// compares as text.
func less(a, b any) bool {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	switch {
	case aok && bok:
		return ai < bi
	case aok != bok:
		return aok
	}
	return record.Text(a) < record.Text(b)
}
