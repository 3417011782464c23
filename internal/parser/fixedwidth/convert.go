package fixedwidth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sync/errgroup"

	"recmig/internal/datasource/file"
	csvparser "recmig/internal/parser/csv"
	"recmig/internal/record"
)

// ConvertOptions controls the CSV produced from an export.
type ConvertOptions struct {
	// LineNumbers prepends a column holding each record's source line.
	LineNumbers bool
	// LineColumn names that column; default "line".
	LineColumn string
	// Dialect of the output file.
	Dialect csvparser.Dialect
}

// Result summarizes one conversion.
type Result struct {
	Input    string
	Output   string
	Declared int
	Produced int
	Failed   int
	// Mismatch wraps ErrRecordCountMismatch when the counts differ. The
	// output is complete regardless.
	Mismatch error
}

// Convert writes t to w as CSV: a header row with the column names, then one
// row per record, every field quoted.
func Convert(ctx context.Context, t *Table, w io.Writer, opts ConvertOptions) (Result, error) {
	res := Result{Input: t.Path, Declared: t.Declared}
	cw, err := csvparser.NewWriter(w, opts.Dialect)
	if err != nil {
		return res, err
	}

	lineCol := opts.LineColumn
	if lineCol == "" {
		lineCol = "line"
	}
	header := t.Names()
	if opts.LineNumbers {
		header = append([]string{lineCol}, header...)
	}
	if err := cw.Write(header); err != nil {
		return res, fmt.Errorf("write header: %w", err)
	}

	fields := make([]string, 0, len(header))
	for row, err := range t.Records(ctx) {
		if err != nil {
			_ = cw.Close()
			return res, err
		}
		fields = fields[:0]
		if opts.LineNumbers {
			fields = append(fields, strconv.Itoa(row.Line))
		}
		for _, v := range row.Values {
			fields = append(fields, record.Text(v))
		}
		if err := cw.Write(fields); err != nil {
			return res, fmt.Errorf("write row %d: %w", row.Line, err)
		}
	}
	if err := cw.Close(); err != nil {
		return res, fmt.Errorf("flush: %w", err)
	}

	res.Produced, res.Failed, res.Mismatch = t.Produced(), t.Failed(), t.Mismatch()
	return res, nil
}

// ConvertFile decodes in and writes the CSV to out.
func (d *Decoder) ConvertFile(ctx context.Context, in, out string, opts ConvertOptions) (res Result, err error) {
	t, err := d.Decode(ctx, in)
	if err != nil {
		return Result{Input: in, Output: out}, err
	}
	defer t.Close()

	f, err := file.NewLocal(out).Create(ctx)
	if err != nil {
		return Result{Input: in, Output: out}, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", out, cerr)
		}
	}()

	res, err = Convert(ctx, t, f, opts)
	res.Output = out
	if err == nil {
		d.logger().Info("fixedwidth: converted", "in", in, "out", out,
			"declared", res.Declared, "produced", res.Produced, "failed", res.Failed)
	}
	return res, err
}

// Job is one input/output pair for ConvertAll.
type Job struct {
	In  string
	Out string
}

// ConvertAll converts independent files concurrently, at most parallel at a
// time (<=0 means one per job). Each file is still decoded sequentially. The
// first fatal error cancels the remaining conversions; results of finished
// jobs are returned in job order alongside it.
func (d *Decoder) ConvertAll(ctx context.Context, jobs []Job, parallel int, opts ConvertOptions) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, j := range jobs {
		g.Go(func() error {
			r, err := d.ConvertFile(gctx, j.In, j.Out, opts)
			results[i] = r
			if err != nil {
				return fmt.Errorf("convert %s: %w", j.In, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// Mismatches collects the count mismatches of results.
func Mismatches(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Mismatch != nil {
			errs = append(errs, r.Mismatch)
		}
	}
	return errors.Join(errs...)
}
