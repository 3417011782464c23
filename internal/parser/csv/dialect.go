// Package csv reads and writes the delimited files a migration run consumes
// and produces. Reading is streaming and encoding-aware; writing quotes every
// field and normalizes text to NFC so leading zeros and empty-vs-missing
// distinctions survive a round trip through other tools.
package csv

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"recmig/internal/config"
)

// Dialect describes one CSV flavor. The zero value is comma-separated UTF-8
// with LF line endings.
type Dialect struct {
	// Delimiter separates fields; 0 means ','.
	Delimiter rune
	// Quote encloses fields; 0 means '"'. A quote inside a quoted field is
	// doubled.
	Quote rune
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool
	// Encoding is a WHATWG encoding label ("utf-8", "windows-1250", ...).
	Encoding string
	// UseCRLF ends written rows with \r\n.
	UseCRLF bool
	// Scrub lists literal byte sequences rewritten before parsing, for known
	// breakage in real-world exports.
	Scrub map[string]string
}

func (d Dialect) comma() rune {
	if d.Delimiter == 0 {
		return ','
	}
	return d.Delimiter
}

func (d Dialect) quote() rune {
	if d.Quote == 0 {
		return '"'
	}
	return d.Quote
}

// swapsQuote reports whether the quote differs from the one encoding/csv
// understands, so readers must exchange the two runes around parsing.
func (d Dialect) swapsQuote() bool { return d.quote() != '"' }

// swapQuote exchanges the configured quote rune and '"'.
func (d Dialect) swapQuote(r rune) rune {
	switch r {
	case d.quote():
		return '"'
	case '"':
		return d.quote()
	}
	return r
}

// encoding resolves the configured label; nil means UTF-8 (no transform).
func (d Dialect) encoding() (encoding.Encoding, error) {
	label := strings.TrimSpace(d.Encoding)
	if label == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q: %w", label, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// scrubPairs returns Scrub in a stable order.
func (d Dialect) scrubPairs() [][2]string {
	keys := make([]string, 0, len(d.Scrub))
	for k := range d.Scrub {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, d.Scrub[k]})
	}
	return out
}

// DialectFromOptions reads the dialect keys shared by csv stages:
// delimiter, quote, lazy_quotes, encoding, crlf and scrub.
func DialectFromOptions(o config.Options) (Dialect, error) {
	d := Dialect{
		Delimiter:  o.Rune("delimiter", ','),
		Quote:      o.Rune("quote", '"'),
		LazyQuotes: o.Bool("lazy_quotes", false),
		Encoding:   o.String("encoding", ""),
		UseCRLF:    o.Bool("crlf", false),
		Scrub:      o.StringMap("scrub"),
	}
	if d.Delimiter == d.quote() || d.Delimiter == '"' || d.Delimiter == '\n' || d.Delimiter == '\r' {
		return Dialect{}, fmt.Errorf("csv: invalid delimiter %q", d.Delimiter)
	}
	if d.Quote == '\n' || d.Quote == '\r' {
		return Dialect{}, fmt.Errorf("csv: invalid quote %q", d.Quote)
	}
	if _, err := d.encoding(); err != nil {
		return Dialect{}, err
	}
	return d, nil
}
