package csv

import (
	"encoding/csv"
	"io"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// utf8BOM is stripped from the first cell of the first row if present.
const utf8BOM = "\uFEFF"

// ParseError is the error returned for a malformed row.
type ParseError = csv.ParseError

// Reader yields raw rows with the line each row started on. The field count
// is not enforced here; callers decide what a width mismatch means.
type Reader struct {
	cr    *csv.Reader
	first bool
	// swap maps parsed fields back when the dialect quote is not '"'.
	swap func(string) string
}

// NewReader decodes r according to d.
func NewReader(r io.Reader, d Dialect) (*Reader, error) {
	enc, err := d.encoding()
	if err != nil {
		return nil, err
	}
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	for _, p := range d.scrubPairs() {
		r = newStreamingRewriter(r, []byte(p[0]), []byte(p[1]))
	}

	out := &Reader{first: true}
	if d.swapsQuote() {
		// encoding/csv only knows '"': exchange it with the configured quote
		// before parsing and back again in every parsed field.
		r = transform.NewReader(r, runes.Map(d.swapQuote))
		out.swap = func(s string) string { return strings.Map(d.swapQuote, s) }
	}

	cr := csv.NewReader(r)
	cr.Comma = d.comma()
	cr.LazyQuotes = d.LazyQuotes
	cr.FieldsPerRecord = -1
	out.cr = cr
	return out, nil
}

// Read returns the next row and its 1-based starting line. It returns io.EOF
// at the end of input. A malformed row yields a *csv.ParseError; reading may
// continue after it.
func (r *Reader) Read() ([]string, int, error) {
	row, err := r.cr.Read()
	if err != nil {
		return nil, 0, err
	}
	line, _ := r.cr.FieldPos(0)
	if r.swap != nil {
		for i := range row {
			row[i] = r.swap(row[i])
		}
	}
	if r.first {
		r.first = false
		if len(row) > 0 {
			row[0] = strings.TrimPrefix(row[0], utf8BOM)
		}
	}
	return row, line, nil
}
