// Package fixedwidth decodes the fixed-width text exports produced by SQL
// command-line clients:
//
//	id  |name      |city
//	----|----------|----
//	   1|Ann       |Brno
//	  22|Bob       |Zlin
//
//	(2 rows affected)
//
// The header fixes each column's width, the dash row must agree with it, and
// the footer declares how many records the file holds. The footer is found by
// scanning backward from the end of the file, so the count is known before
// the first record is read.
package fixedwidth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"recmig/internal/datasource/file"
	"recmig/internal/logging"
)

var (
	// ErrMalformedSource: missing footer, header/separator disagreement, or a
	// corrupted record when not tolerant. Always fatal.
	ErrMalformedSource = errors.New("malformed fixed-width source")
	// ErrRecordCountMismatch: the number of decoded records differs from the
	// footer. Reported, not fatal.
	ErrRecordCountMismatch = errors.New("record count mismatch")
)

// padding is trimmed from both ends of every value.
const padding = " \t\x00"

// Column is one header column.
type Column struct {
	Name  string
	Width int
}

// Row is one decoded record. Values hold string or int64.
type Row struct {
	Line   int
	Values []any
}

// Decoder holds the format options. The zero value uses '|' and stops at the
// first corrupted record.
type Decoder struct {
	// Sep separates header names and follows every data field.
	Sep rune
	// Tolerant drops a corrupted record and continues on the next line
	// instead of failing.
	Tolerant bool
	Log      *slog.Logger
}

func (d *Decoder) sep() rune {
	if d.Sep == 0 {
		return '|'
	}
	return d.Sep
}

func (d *Decoder) logger() *slog.Logger {
	if d.Log == nil {
		return logging.Discard()
	}
	return d.Log
}

// Table is an opened export: its columns, the declared count and a lazy
// record sequence. Close releases the file.
type Table struct {
	Path     string
	Columns  []Column
	Declared int

	f          *os.File
	dataOffset int64
	dataLine   int
	sep        rune
	tolerant   bool
	log        *slog.Logger

	produced int
	failed   int
	mismatch error
}

// Decode opens path, reads the footer count, parses the header and checks
// the separator row. Records are produced lazily by Table.Records.
func (d *Decoder) Decode(ctx context.Context, path string) (*Table, error) {
	f, err := file.NewLocal(path).Open(ctx)
	if err != nil {
		return nil, err
	}
	t, err := d.open(ctx, f, path)
	if err != nil {
		_ = f.Close()
		d.logger().Error("fixedwidth: decode failed", "path", path, "err", err)
		return nil, err
	}
	return t, nil
}

func (d *Decoder) open(ctx context.Context, f *os.File, path string) (*Table, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	declared, err := scanFooter(ctx, f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rr := newRuneReader(f, 0, 0)
	header, err := rr.readLine()
	if err != nil && (err != io.EOF || header == "") {
		return nil, fmt.Errorf("%w: %s: missing header", ErrMalformedSource, path)
	}
	cols, err := parseHeader(header, d.sep())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	raw, out, err := rr.readFields(cols, d.sep())
	if err != nil {
		return nil, fmt.Errorf("%s: read separator row: %w", path, err)
	}
	if out != fieldsOK {
		return nil, fmt.Errorf("%w: %s: separator row does not match header", ErrMalformedSource, path)
	}
	for i, c := range cols {
		if raw[i] != strings.Repeat("-", c.Width) {
			return nil, fmt.Errorf("%w: %s: column %q is %d wide but separator is %q",
				ErrMalformedSource, path, c.Name, c.Width, raw[i])
		}
	}

	d.logger().Debug("fixedwidth: opened", "path", path, "columns", len(cols), "declared", declared)
	return &Table{
		Path:       path,
		Columns:    cols,
		Declared:   declared,
		f:          f,
		dataOffset: rr.off,
		dataLine:   rr.line,
		sep:        d.sep(),
		tolerant:   d.Tolerant,
		log:        d.logger(),
	}, nil
}

// parseHeader splits the header line; each part's rune length is the column
// width and its trimmed text the column name.
func parseHeader(line string, sep rune) ([]Column, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedSource)
	}
	parts := strings.Split(line, string(sep))
	cols := make([]Column, 0, len(parts))
	for i, p := range parts {
		name := strings.Trim(p, padding)
		if name == "" {
			return nil, fmt.Errorf("%w: header column %d has no name", ErrMalformedSource, i+1)
		}
		cols = append(cols, Column{Name: name, Width: utf8.RuneCountInString(p)})
	}
	return cols, nil
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Produced is the number of records yielded by the last full pass.
func (t *Table) Produced() int { return t.produced }

// Failed is the number of corrupted records dropped by the last pass.
func (t *Table) Failed() int { return t.failed }

// Mismatch returns the count mismatch found by the last complete pass, or
// nil. It wraps ErrRecordCountMismatch.
func (t *Table) Mismatch() error { return t.mismatch }

// Close releases the file.
func (t *Table) Close() error { return t.f.Close() }

// Records yields records from the start of the data. Reading stops at the end
// of the file, at a blank line, or once Declared records were produced. When
// the pass completes, the produced count is checked against Declared and a
// difference is logged as an error (see Mismatch).
func (t *Table) Records(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if _, err := t.f.Seek(t.dataOffset, io.SeekStart); err != nil {
			yield(Row{}, fmt.Errorf("seek %s: %w", t.Path, err))
			return
		}
		rr := newRuneReader(t.f, t.dataOffset, t.dataLine)
		t.produced, t.failed, t.mismatch = 0, 0, nil

		for t.produced < t.Declared {
			if err := ctx.Err(); err != nil {
				yield(Row{}, err)
				return
			}
			line := rr.line + 1
			raw, out, err := rr.readFields(t.Columns, t.sep)
			if err != nil {
				yield(Row{}, fmt.Errorf("%s line %d: %w", t.Path, line, err))
				return
			}
			if out == fieldsEnd {
				break
			}
			if out == fieldsCorrupt {
				t.failed++
				t.log.Warn("fixedwidth: corrupted record", "path", t.Path, "line", line)
				if !t.tolerant {
					err := fmt.Errorf("%w: %s line %d: unexpected character after field", ErrMalformedSource, t.Path, line)
					t.log.Error("fixedwidth: aborted", "err", err)
					yield(Row{}, err)
					return
				}
				if err := rr.skipLine(); err != nil {
					break
				}
				continue
			}

			vals := make([]any, len(raw))
			for i, s := range raw {
				vals[i] = coerce(s)
			}
			t.produced++
			if !yield(Row{Line: line, Values: vals}, nil) {
				return
			}
		}
		t.checkCount()
	}
}

func (t *Table) checkCount() {
	if t.produced == t.Declared {
		return
	}
	t.mismatch = fmt.Errorf("%w: %s: footer declares %d, decoded %d (%d corrupted)",
		ErrRecordCountMismatch, t.Path, t.Declared, t.produced, t.failed)
	t.log.Error("fixedwidth: count mismatch", "path", t.Path,
		"declared", t.Declared, "produced", t.produced, "failed", t.failed)
}

// coerce trims raw and turns right-aligned integers into int64: the slice
// must start with padding, end without it, and parse as an integer.
func coerce(raw string) any {
	trimmed := strings.Trim(raw, padding)
	if raw == "" || trimmed == "" {
		return trimmed
	}
	first, _ := utf8.DecodeRuneInString(raw)
	last, _ := utf8.DecodeLastRuneInString(raw)
	if strings.ContainsRune(padding, first) && !strings.ContainsRune(padding, last) {
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n
		}
	}
	return trimmed
}

type fieldsOutcome int

const (
	fieldsOK fieldsOutcome = iota
	fieldsEnd
	fieldsCorrupt
)

// runeReader reads runes while tracking the byte offset and the number of
// newlines consumed.
type runeReader struct {
	br   *bufio.Reader
	off  int64
	line int
}

func newRuneReader(r io.Reader, off int64, line int) *runeReader {
	return &runeReader{br: bufio.NewReaderSize(r, 64*1024), off: off, line: line}
}

func (r *runeReader) next() (rune, error) {
	c, n, err := r.br.ReadRune()
	if err != nil {
		return 0, err
	}
	r.off += int64(n)
	if c == '\n' {
		r.line++
	}
	return c, nil
}

// readLine returns the rest of the current line without its terminator.
func (r *runeReader) readLine() (string, error) {
	s, err := r.br.ReadString('\n')
	r.off += int64(len(s))
	if strings.HasSuffix(s, "\n") {
		r.line++
	}
	return strings.TrimRight(s, "\r\n"), err
}

func (r *runeReader) skipLine() error {
	_, err := r.readLine()
	return err
}

// readFields reads one record: for each column exactly Width runes followed
// by a separator or a line end. A blank line or end of input at a record
// boundary, or input ending inside a field, is fieldsEnd.
func (r *runeReader) readFields(cols []Column, sep rune) ([]string, fieldsOutcome, error) {
	b, err := r.br.Peek(1)
	if err == io.EOF || (err == nil && (b[0] == '\n' || b[0] == '\r')) {
		return nil, fieldsEnd, nil
	}
	if err != nil {
		return nil, 0, err
	}

	raw := make([]string, 0, len(cols))
	var sb strings.Builder
	for i, c := range cols {
		sb.Reset()
		for n := 0; n < c.Width; n++ {
			ch, err := r.next()
			if err == io.EOF {
				return nil, fieldsEnd, nil
			}
			if err != nil {
				return nil, 0, err
			}
			sb.WriteRune(ch)
		}
		raw = append(raw, sb.String())

		la, err := r.next()
		if err == io.EOF {
			if i == len(cols)-1 {
				return raw, fieldsOK, nil
			}
			return nil, fieldsEnd, nil
		}
		if err != nil {
			return nil, 0, err
		}
		switch la {
		case sep, '\n':
		case '\r':
			if b, _ := r.br.Peek(1); len(b) == 1 && b[0] == '\n' {
				_, _ = r.next()
			}
		default:
			return raw, fieldsCorrupt, nil
		}
	}
	return raw, fieldsOK, nil
}
