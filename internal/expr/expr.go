// Package expr evaluates the textual conditions and value rules found in
// pipeline files. Expressions are CEL; each distinct source string is
// compiled once and the program reused for every record.
package expr

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// Variables visible to every expression.
const (
	VarRec     = "rec"     // current record as a map, metadata under _key/_line/_type/_error
	VarVars    = "vars"    // pipeline-level constants
	VarKey     = "key"     // key computed by the calling stage
	VarTarget  = "target"  // object resolved in the target store, or null
	VarStorage = "storage" // run storage snapshot (values, count, parts)
	VarOrgs    = "orgs"    // organization directory by id
	VarParts   = "parts"   // run parts selector
)

var declared = []string{VarRec, VarVars, VarKey, VarTarget, VarStorage, VarOrgs, VarParts}

// Evaluator compiles and runs CEL expressions. It is safe for concurrent use.
type Evaluator struct {
	env  *cel.Env
	pool *activationPool

	mu    sync.Mutex
	cache map[string]cel.Program
}

// New builds the CEL environment with the pipeline variables and the string
// extension library.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarRec, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarVars, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarKey, cel.DynType),
		cel.Variable(VarTarget, cel.DynType),
		cel.Variable(VarStorage, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarOrgs, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarParts, cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: env: %w", err)
	}
	return &Evaluator{
		env:   env,
		pool:  newActivationPool(),
		cache: map[string]cel.Program{},
	}, nil
}

// Compile returns the cached program for src, compiling it on first use.
func (e *Evaluator) Compile(src string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.cache[src]; ok {
		return p, nil
	}
	ast, iss := e.env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", src, iss.Err())
	}
	p, err := e.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("expr: program %q: %w", src, err)
	}
	e.cache[src] = p
	return p, nil
}

// Evaluate runs src against bindings and returns a plain Go value: string,
// int64, float64, bool, nil, []any or map[string]any.
func (e *Evaluator) Evaluate(src string, bindings map[string]any) (any, error) {
	p, err := e.Compile(src)
	if err != nil {
		return nil, err
	}

	act := e.pool.get(bindings)
	defer e.pool.put(act)

	out, _, err := p.Eval(act)
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", src, err)
	}
	return native(out)
}

var (
	listType = reflect.TypeOf([]any{})
	mapType  = reflect.TypeOf(map[string]any{})
)

func native(v ref.Val) (any, error) {
	switch v.Type() {
	case types.NullType:
		return nil, nil
	case types.ListType:
		return v.ConvertToNative(listType)
	case types.MapType:
		return v.ConvertToNative(mapType)
	case types.UintType:
		return int64(v.Value().(uint64)), nil
	default:
		return v.Value(), nil
	}
}
