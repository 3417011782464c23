// Package gate decides whether a stage takes part in a run and whether a
// record passes a stage's condition. It also computes field values from
// expressions, containing any failure to the single record involved.
package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"recmig/internal/record"
)

// ErrExpressionFailure wraps every error produced while evaluating a
// condition or value expression.
var ErrExpressionFailure = errors.New("expression failure")

// Evaluator is the expression capability the gate is built on.
type Evaluator interface {
	Evaluate(expr string, bindings map[string]any) (any, error)
}

// PartCode returns the part letter(s) of a stage: the explicit code when
// given, else the first character of the stage name.
func PartCode(stageName, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if stageName == "" {
		return ""
	}
	return stageName[:1]
}

// IsActive reports whether a stage is enabled by the run parts selector.
// An empty selector or "*" enables every stage. A stage whose code has
// several letters is active when any one of them is selected.
func IsActive(stageName, explicit, parts string) bool {
	if parts == "" || parts == "*" {
		return true
	}
	code := PartCode(stageName, explicit)
	if code == "" {
		return false
	}
	return strings.ContainsAny(strings.ToLower(parts), strings.ToLower(code))
}

// Gate evaluates record conditions and value rules.
type Gate struct {
	eval    Evaluator
	log     *slog.Logger
	globals func() map[string]any
}

// New returns a Gate. globals supplies the bindings shared by every
// evaluation (vars, storage, orgs, parts); it is called per evaluation so
// counters read by expressions are current.
func New(eval Evaluator, log *slog.Logger, globals func() map[string]any) *Gate {
	if globals == nil {
		globals = func() map[string]any { return nil }
	}
	return &Gate{eval: eval, log: log, globals: globals}
}

// Bindings assembles the variables for one evaluation: globals, then the
// record under "rec", then extras (which win).
func (g *Gate) Bindings(rec *record.Record, extras map[string]any) map[string]any {
	glob := g.globals()
	b := make(map[string]any, len(glob)+len(extras)+1)
	for k, v := range glob {
		b[k] = v
	}
	if rec != nil {
		b["rec"] = rec.Map()
	}
	for k, v := range extras {
		b[k] = v
	}
	return b
}

// Evaluate runs expr for rec and wraps failures in ErrExpressionFailure.
func (g *Gate) Evaluate(expr string, rec *record.Record, extras map[string]any) (any, error) {
	v, err := g.eval.Evaluate(expr, g.Bindings(rec, extras))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpressionFailure, err)
	}
	return v, nil
}

// Condition reports whether rec satisfies expr. An empty expression is always
// true; a non-boolean result is an error.
func (g *Gate) Condition(expr string, rec *record.Record, extras map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	v, err := g.Evaluate(expr, rec, extras)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: condition %q returned %T, want bool", ErrExpressionFailure, expr, v)
	}
	return b, nil
}

// Value computes expr for rec. When it fails the failure is logged once and
// fallback (if any) is tried instead. ok is false when no value could be
// produced; callers then leave the record as it was.
func (g *Gate) Value(stage string, rec *record.Record, expr, fallback string, extras map[string]any) (any, bool) {
	v, err := g.Evaluate(expr, rec, extras)
	if err == nil {
		return v, true
	}
	g.log.Error("expression failed",
		"stage", stage, "record", rec.Identity(), "expr", expr, "err", err)
	if fallback == "" {
		return nil, false
	}

	v, err = g.Evaluate(fallback, rec, extras)
	if err != nil {
		g.log.Error("fallback expression failed",
			"stage", stage, "record", rec.Identity(), "expr", fallback, "err", err)
		return nil, false
	}
	return v, true
}
