package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"recmig/internal/config"
	"recmig/internal/datasource/file"
	"recmig/internal/metrics"
	csvparser "recmig/internal/parser/csv"
	"recmig/internal/pipeline"
	"recmig/internal/record"
	"recmig/internal/runstore"
)

const defaultPlaceholder = `^_\d*$`

func init() {
	pipeline.Register("csvsource", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewCSVSource(env, st)
	})
}

// CSVSource forwards every upstream record and then appends the rows of its
// own file. Several sources can coexist in one run; each is addressed by its
// logical key in run storage.
//
// Options: key, path, fields, strict (default true), skip_header, none,
// placeholder, type, condition and the csv dialect keys.
type CSVSource struct {
	base
	key        string
	path       string
	fields     []string
	keep       []int // indexes of fields that are not placeholders
	dialect    csvparser.Dialect
	strict     bool
	skipHeader bool
	none       *string
	typ        string
	entry      *runstore.CSVEntry
}

// NewCSVSource builds a source from its stage configuration.
func NewCSVSource(env *pipeline.Env, st config.Stage) (*CSVSource, error) {
	o := st.Options
	s := &CSVSource{
		base:       newBase(env, st),
		key:        o.String("key", st.Name),
		path:       env.InputPath(o.String("path", "")),
		fields:     o.Fields("fields"),
		strict:     o.Bool("strict", true),
		skipHeader: o.Bool("skip_header", false),
		typ:        o.String("type", ""),
	}
	if len(s.fields) == 0 {
		return nil, fmt.Errorf("csvsource: no fields declared")
	}
	if o.Has("none") {
		n := o.String("none", "")
		s.none = &n
	}

	d, err := csvparser.DialectFromOptions(o)
	if err != nil {
		return nil, fmt.Errorf("csvsource: %w", err)
	}
	s.dialect = d

	ph, err := regexp.Compile(o.String("placeholder", defaultPlaceholder))
	if err != nil {
		return nil, fmt.Errorf("csvsource: placeholder: %w", err)
	}
	for i, f := range s.fields {
		if !ph.MatchString(f) {
			s.keep = append(s.keep, i)
		}
	}

	s.entry = env.Store.CSV(s.key)
	s.entry.Path = s.path
	s.entry.Fields = s.fields
	s.entry.Dialect = d
	return s, nil
}

// Close releases the file handle if this stage holds it.
func (s *CSVSource) Close() error {
	if s.entry.Owner() == s.name {
		return s.entry.Close()
	}
	return nil
}

func (s *CSVSource) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return func(yield func(*record.Record, error) bool) {
		for rec, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if s.entry.Consumed {
			s.log.Debug("csvsource: already consumed", "key", s.key)
			return
		}
		s.read(ctx, yield)
	}
}

// read streams the file after upstream is exhausted. The path is resolved
// only now, so a file written earlier in the same chain can be read back.
func (s *CSVSource) read(ctx context.Context, yield func(*record.Record, error) bool) {
	loc := file.NewLocal(s.path)
	if s.path == "" || !loc.Exists() {
		s.log.Warn("csvsource: file not found, passing through", "key", s.key, "path", s.path)
		return
	}
	f, err := loc.Open(ctx)
	if err != nil {
		err = fmt.Errorf("csvsource: %w", err)
		s.log.Error("csvsource: open failed", "key", s.key, "err", err)
		yield(nil, pipeline.Fail(s.name, nil, err))
		return
	}
	if err := s.entry.Attach(s.name, f); err != nil {
		f.Close()
		s.log.Error("csvsource: attach failed", "key", s.key, "err", err)
		yield(nil, pipeline.Fail(s.name, nil, err))
		return
	}

	exhausted := false
	defer func() {
		if exhausted {
			_ = s.entry.MarkConsumed()
		} else {
			_ = s.entry.Close()
		}
	}()

	r, err := csvparser.NewReader(f, s.dialect)
	if err != nil {
		yield(nil, pipeline.Fail(s.name, nil, err))
		return
	}
	s.log.Info("csvsource: reading", "key", s.key, "path", s.path)

	var read, skipped int64
	defer func() {
		metrics.RecordRow(s.env.Job, "read", read)
		metrics.RecordRow(s.env.Job, "skipped", skipped)
	}()

	first := true
	for {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		row, line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csvparser.ParseError
			if errors.As(err, &pe) {
				s.log.Warn("csvsource: skipping malformed row", "key", s.key, "line", pe.StartLine, "err", err)
				skipped++
				continue
			}
			err = fmt.Errorf("csvsource: read %s: %w", s.path, err)
			s.log.Error("csvsource: read failed", "key", s.key, "err", err)
			yield(nil, pipeline.Fail(s.name, &record.Record{Key: s.key, Line: line}, err))
			return
		}

		if first {
			first = false
			if len(row) != len(s.fields) {
				err := fmt.Errorf("%w: %s line %d has %d columns, %d declared",
					pipeline.ErrSchemaMismatch, s.path, line, len(row), len(s.fields))
				s.log.Error("csvsource: schema mismatch", "key", s.key, "strict", s.strict, "err", err)
				if s.strict {
					yield(nil, pipeline.Fail(s.name, &record.Record{Key: s.key, Line: line}, err))
					return
				}
				exhausted = true
				return
			}
			s.entry.Fields = s.keptFields()
			if s.skipHeader {
				continue
			}
		} else if len(row) != len(s.fields) {
			s.log.Warn("csvsource: skipping row with wrong width",
				"key", s.key, "line", line, "got", len(row), "want", len(s.fields))
			skipped++
			continue
		}

		rec := s.record(row, line)
		if !s.holds(rec, nil) {
			skipped++
			continue
		}
		read++
		if !yield(rec, nil) {
			return
		}
	}
	exhausted = true
	s.log.Info("csvsource: done", "key", s.key, "read", read, "skipped", skipped)
}

func (s *CSVSource) keptFields() []string {
	out := make([]string, len(s.keep))
	for i, idx := range s.keep {
		out[i] = s.fields[idx]
	}
	return out
}

func (s *CSVSource) record(row []string, line int) *record.Record {
	rec := record.New(len(s.keep))
	rec.Key = s.key
	rec.Line = line
	rec.Type = s.typ
	for _, idx := range s.keep {
		v := strings.TrimSpace(row[idx])
		if s.none != nil && v == *s.none {
			rec.Set(s.fields[idx], nil)
			continue
		}
		rec.Set(s.fields[idx], v)
	}
	return rec
}
