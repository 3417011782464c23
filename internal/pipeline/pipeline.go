// Package pipeline composes stages into a lazy, pull-based chain.
//
// Each stage receives the previous stage's record sequence and returns a new
// one. Nothing runs until the final sequence is ranged over; every record is
// pulled through the whole chain before the next one is produced. A non-nil
// error in a sequence is fatal: the consumer stops and the run aborts.
package pipeline

import (
	"context"
	"io"
	"iter"

	"recmig/internal/record"
)

// Seq is a lazy stream of records. A pair with a non-nil error ends the
// stream.
type Seq = iter.Seq2[*record.Record, error]

// Stage is one element of the chain.
type Stage interface {
	// Name identifies the stage in logs, counters and errors.
	Name() string
	// Apply wraps in. It must not pull from in before the returned sequence
	// is itself pulled.
	Apply(ctx context.Context, in Seq) Seq
}

// Empty is the sequence the first stage of a chain receives.
func Empty() Seq {
	return func(func(*record.Record, error) bool) {}
}

// FromSlice yields recs in order.
func FromSlice(recs ...*record.Record) Seq {
	return func(yield func(*record.Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains seq. It stops at the first error and returns what was
// collected so far along with it.
func Collect(seq Seq) ([]*record.Record, error) {
	var out []*record.Record
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Passthrough is the shim that replaces a stage disabled by the parts
// selector: it forwards everything and has no side effects.
type Passthrough struct{ name string }

// NewPassthrough returns a pass-through stage called name.
func NewPassthrough(name string) *Passthrough { return &Passthrough{name: name} }

func (p *Passthrough) Name() string { return p.name }

func (p *Passthrough) Apply(_ context.Context, in Seq) Seq { return in }

// Disable replaces s by a pass-through shim. A stage that acquired resources
// while being built is closed first.
func Disable(s Stage) (Stage, error) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return nil, err
		}
	}
	return NewPassthrough(s.Name()), nil
}

// Chain applies stages in order, starting from an empty sequence, and
// returns the sequence of the last stage.
func Chain(ctx context.Context, stages []Stage) Seq {
	seq := Empty()
	for _, s := range stages {
		seq = s.Apply(ctx, seq)
	}
	return seq
}
