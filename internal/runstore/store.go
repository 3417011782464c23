// Package runstore holds the run-scoped state shared by every stage of one
// pipeline execution.
//
// Exactly one Store exists per run and every stage receives the same
// instance. Execution is single-threaded and pull-based, so the Store does no
// locking. Namespaces are created on first use and never removed while the
// run is in progress.
package runstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"recmig/internal/config"
)

// ErrNotFound is returned by Get for keys that were never Set.
var ErrNotFound = errors.New("runstore: key not found")

// Well-known counter names.
const (
	// CounterCommits is incremented by the load stage per flushed batch and
	// read by the audit stage.
	CounterCommits = "commits"
)

// Store is the run-scoped key/value state.
type Store struct {
	// RunID identifies this execution in logs.
	RunID string

	parts  string
	cfg    config.Options
	csv    map[string]*CSVEntry
	data   map[string]*Table
	counts map[string]map[string]int
	values map[string]any
}

// New creates the store for a run with the given parts selector and global
// configuration bag.
func New(parts string, cfg config.Options) *Store {
	if cfg == nil {
		cfg = config.Options{}
	}
	return &Store{
		RunID:  uuid.NewString(),
		parts:  parts,
		cfg:    cfg,
		csv:    map[string]*CSVEntry{},
		data:   map[string]*Table{},
		counts: map[string]map[string]int{},
		values: map[string]any{},
	}
}

// Parts returns the run parts selector.
func (s *Store) Parts() string { return s.parts }

// Config returns the global configuration bag.
func (s *Store) Config() config.Options { return s.cfg }

// Get returns the value stored under key or ErrNotFound.
func (s *Store) Get(key string) (any, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) { s.values[key] = value }

// CSV returns the entry for a logical CSV key, creating it on first use.
func (s *Store) CSV(key string) *CSVEntry {
	e, ok := s.csv[key]
	if !ok {
		e = &CSVEntry{Key: key}
		s.csv[key] = e
	}
	return e
}

// Table returns the in-memory table for bucket, creating it on first use.
func (s *Store) Table(bucket string) *Table {
	t, ok := s.data[bucket]
	if !ok {
		t = newTable()
		s.data[bucket] = t
	}
	return t
}

// Inc adds delta to the counter (stage, group) and returns the new value.
func (s *Store) Inc(stage, group string, delta int) int {
	m, ok := s.counts[stage]
	if !ok {
		m = map[string]int{}
		s.counts[stage] = m
	}
	m[group] += delta
	return m[group]
}

// Count returns the current value of counter (stage, group).
func (s *Store) Count(stage, group string) int {
	return s.counts[stage][group]
}

// Counts returns a copy of all groups for stage.
func (s *Store) Counts(stage string) map[string]int {
	out := make(map[string]int, len(s.counts[stage]))
	for k, v := range s.counts[stage] {
		out[k] = v
	}
	return out
}

// Snapshot renders the free-form values and counters as a plain map. It is
// what expressions see under the "storage" variable.
func (s *Store) Snapshot() map[string]any {
	m := make(map[string]any, len(s.values)+2)
	for k, v := range s.values {
		m[k] = v
	}
	counts := make(map[string]any, len(s.counts))
	for stage, groups := range s.counts {
		g := make(map[string]any, len(groups))
		for k, v := range groups {
			g[k] = int64(v)
		}
		counts[stage] = g
	}
	m["count"] = counts
	m["parts"] = s.parts
	return m
}

// CloseAll closes every CSV handle still open. The driver calls it when a run
// ends early so no file is left dangling.
func (s *Store) CloseAll() error {
	keys := make([]string, 0, len(s.csv))
	for k := range s.csv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []string
	for _, k := range keys {
		if err := s.csv[k].Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", k, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("runstore: close: %s", strings.Join(errs, "; "))
	}
	return nil
}
