package pipeline

import (
	"errors"
	"fmt"

	"recmig/internal/gate"
	"recmig/internal/record"
)

var (
	// ErrSchemaMismatch: a CSV row has more or fewer columns than declared.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrExpressionFailure: a condition or value expression could not be
	// evaluated.
	ErrExpressionFailure = gate.ErrExpressionFailure
	// ErrExplicitStop: an abort stage's condition matched.
	ErrExplicitStop = errors.New("explicit stop")
)

// StageError attaches the failing stage and record position to an error.
type StageError struct {
	Stage string
	Key   string
	Line  int
	Err   error
}

func (e *StageError) Error() string {
	switch {
	case e.Key != "" || e.Line > 0:
		return fmt.Sprintf("stage %s (%s:%d): %v", e.Stage, e.Key, e.Line, e.Err)
	default:
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// Fail wraps err for stage. rec may be nil.
func Fail(stage string, rec *record.Record, err error) error {
	se := &StageError{Stage: stage, Err: err}
	if rec != nil {
		se.Key, se.Line = rec.Key, rec.Line
	}
	return se
}
