// Package record defines the unit of data that flows through a migration
// pipeline: an ordered set of named values plus a few reserved metadata
// fields (originating key, source line, type tag, error flag).
//
// Values are one of string, int64, or nil. nil is the absent/null marker.
// Field order is kept only so writers can emit columns in a stable order;
// lookups are always by name.
package record

import (
	"fmt"
	"strconv"
)

// Reserved names under which metadata is exposed to expressions (see Map).
const (
	MetaKey   = "_key"
	MetaLine  = "_line"
	MetaType  = "_type"
	MetaError = "_error"
)

// Record is a single row of migrated data.
//
// A Record is owned by whichever stage currently holds it. Stages may mutate
// it in place before yielding it downstream; anything that keeps a record
// beyond the current pull (tables, dedup sets) must store a Clone.
type Record struct {
	// Key is the logical key of the stage that produced the record.
	Key string
	// Line is the 1-based source line the record was read from (0 if unknown).
	Line int
	// Type is a free-form category tag.
	Type string
	// Err marks a record that carried a per-record problem downstream.
	Err bool

	order  []string
	values map[string]any
}

// New returns an empty record with room for n fields.
func New(n int) *Record {
	return &Record{
		order:  make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// FromPairs builds a record from alternating name/value arguments. It is a
// convenience for tests and small collaborators.
func FromPairs(kv ...any) *Record {
	r := New(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		name, _ := kv[i].(string)
		r.Set(name, kv[i+1])
	}
	return r
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.order) }

// Fields returns the field names in insertion order. The returned slice must
// not be modified.
func (r *Record) Fields() []string { return r.order }

// Has reports whether name is present (even if its value is nil).
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the value for name and whether it was present.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// String returns the textual form of name's value; nil and missing yield "".
func (r *Record) String(name string) string {
	return Text(r.values[name])
}

// Set assigns value to name, appending name to the field order when new.
// Integers of any width are stored as int64.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = normalize(value)
}

// Delete removes name from the record.
func (r *Record) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy; values are immutable scalars so a shallow map
// copy is sufficient.
func (r *Record) Clone() *Record {
	c := &Record{
		Key:    r.Key,
		Line:   r.Line,
		Type:   r.Type,
		Err:    r.Err,
		order:  append([]string(nil), r.order...),
		values: make(map[string]any, len(r.values)),
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Map returns a fresh map view suitable for expression bindings. Metadata is
// included under the reserved Meta* names.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.values)+4)
	for k, v := range r.values {
		m[k] = v
	}
	m[MetaKey] = r.Key
	m[MetaLine] = int64(r.Line)
	m[MetaType] = r.Type
	m[MetaError] = r.Err
	return m
}

// Identity is a short human-readable handle used in log lines.
func (r *Record) Identity() string {
	if r.Key == "" {
		return "line " + strconv.Itoa(r.Line)
	}
	return r.Key + ":" + strconv.Itoa(r.Line)
}

// Text renders a value the way writers expect: nil as "", int64 in base 10.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	default:
		return v
	}
}
