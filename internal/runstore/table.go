package runstore

import (
	"recmig/internal/record"
)

// Table is an in-memory accumulation bucket: primary key → Row. Rows keep
// insertion order so a writer can emit them unsorted when asked to.
type Table struct {
	order []string
	rows  map[string]*Row
}

// Row is one primary-key slot. It holds either a single record (one-level
// table) or an ordered set of sub-keyed records (two-level table).
type Row struct {
	Key    string
	Record *record.Record

	subOrder []string
	subs     map[string]*record.Record
}

func newTable() *Table { return &Table{rows: map[string]*Row{}} }

// Len returns the number of primary keys.
func (t *Table) Len() int { return len(t.order) }

// Put stores rec under key, replacing any earlier record for that key.
func (t *Table) Put(key string, rec *record.Record) {
	r := t.row(key)
	r.Record = rec
}

// PutSub stores rec under (key, sub). Earlier records for the same pair are
// replaced; new sub keys are appended.
func (t *Table) PutSub(key, sub string, rec *record.Record) {
	r := t.row(key)
	if r.subs == nil {
		r.subs = map[string]*record.Record{}
	}
	if _, ok := r.subs[sub]; !ok {
		r.subOrder = append(r.subOrder, sub)
	}
	r.subs[sub] = rec
}

// Get returns the row for key.
func (t *Table) Get(key string) (*Row, bool) {
	r, ok := t.rows[key]
	return r, ok
}

// Rows returns rows in insertion order.
func (t *Table) Rows() []*Row {
	out := make([]*Row, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rows[k])
	}
	return out
}

func (t *Table) row(key string) *Row {
	r, ok := t.rows[key]
	if !ok {
		r = &Row{Key: key}
		t.rows[key] = r
		t.order = append(t.order, key)
	}
	return r
}

// Nested reports whether the row holds sub-keyed records.
func (r *Row) Nested() bool { return len(r.subOrder) > 0 }

// SubKeys returns the sub keys in insertion order.
func (r *Row) SubKeys() []string { return r.subOrder }

// Sub returns the record stored under sub.
func (r *Row) Sub(sub string) *record.Record { return r.subs[sub] }
