package runstore

import (
	"fmt"
	"io"

	csvparser "recmig/internal/parser/csv"
)

// CSVEntry is the run-level record of one logical CSV source or sink.
//
// The stage that opens the file owns the handle; other stages may read the
// metadata (Path, Fields) but must not open or close it. Closing through the
// entry clears the handle so any later stage checking the same key can tell
// that the file was fully consumed.
type CSVEntry struct {
	Key     string
	Path    string
	Fields  []string
	Header  []string // labels written as the header row; nil means no header
	Dialect csvparser.Dialect
	Append  bool

	// HeaderPending is true until a sink has emitted its header row.
	HeaderPending bool

	// Consumed is set once a reader exhausted the file.
	Consumed bool

	owner  string
	handle io.Closer
}

// IsOpen reports whether a handle is currently attached.
func (e *CSVEntry) IsOpen() bool { return e.handle != nil }

// Owner returns the name of the stage holding the handle ("" when closed).
func (e *CSVEntry) Owner() string { return e.owner }

// Attach records h as the open handle, owned by stage owner. Attaching while
// another stage holds the handle is an error.
func (e *CSVEntry) Attach(owner string, h io.Closer) error {
	if e.handle != nil && e.owner != owner {
		return fmt.Errorf("runstore: csv %q already opened by stage %q", e.Key, e.owner)
	}
	e.owner = owner
	e.handle = h
	return nil
}

// Close closes and clears the handle. It is a no-op when nothing is open.
func (e *CSVEntry) Close() error {
	if e.handle == nil {
		return nil
	}
	err := e.handle.Close()
	e.handle = nil
	e.owner = ""
	return err
}

// MarkConsumed closes the handle and flags the file as fully read.
func (e *CSVEntry) MarkConsumed() error {
	e.Consumed = true
	return e.Close()
}
