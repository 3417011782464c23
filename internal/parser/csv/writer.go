package csv

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Writer emits rows with every field quoted. encoding/csv only quotes when it
// must, which loses the distinction between 007 and 7 in spreadsheet tools,
// so the quoting is done here.
type Writer struct {
	bw    *bufio.Writer
	tw    io.WriteCloser // encoder, nil for UTF-8
	comma string
	quote string
	eol   string
	rows  int
}

// NewWriter writes to w according to d. Characters the target encoding cannot
// represent are replaced rather than failing the row.
func NewWriter(w io.Writer, d Dialect) (*Writer, error) {
	enc, err := d.encoding()
	if err != nil {
		return nil, err
	}
	out := &Writer{comma: string(d.comma()), quote: string(d.quote()), eol: "\n"}
	if d.UseCRLF {
		out.eol = "\r\n"
	}
	if enc != nil {
		out.tw = transform.NewWriter(w, encoding.ReplaceUnsupported(enc.NewEncoder()))
		w = out.tw
	}
	out.bw = bufio.NewWriter(w)
	return out, nil
}

// Write emits one row.
func (w *Writer) Write(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if _, err := w.bw.WriteString(w.comma); err != nil {
				return err
			}
		}
		if err := w.field(f); err != nil {
			return err
		}
	}
	_, err := w.bw.WriteString(w.eol)
	w.rows++
	return err
}

func (w *Writer) field(s string) error {
	s = norm.NFC.String(s)
	if _, err := w.bw.WriteString(w.quote); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strings.ReplaceAll(s, w.quote, w.quote+w.quote)); err != nil {
		return err
	}
	_, err := w.bw.WriteString(w.quote)
	return err
}

// Rows returns how many rows were written.
func (w *Writer) Rows() int { return w.rows }

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error { return w.bw.Flush() }

// Close flushes and finalizes the encoder. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.tw != nil {
		return w.tw.Close()
	}
	return nil
}
