package expr

import (
	"sync"

	"github.com/google/cel-go/interpreter"
)

// activationPool recycles the per-evaluation variable maps; one evaluation
// happens per record per expression.
type activationPool struct {
	pool sync.Pool
}

func newActivationPool() *activationPool {
	return &activationPool{
		pool: sync.Pool{
			New: func() any {
				return &pooledActivation{vars: make(map[string]any, len(declared))}
			},
		},
	}
}

func (p *activationPool) get(vars map[string]any) *pooledActivation {
	a := p.pool.Get().(*pooledActivation)
	a.reset(vars)
	return a
}

func (p *activationPool) put(a *pooledActivation) {
	clear(a.vars)
	p.pool.Put(a)
}

type pooledActivation struct {
	vars map[string]any
}

func (a *pooledActivation) ResolveName(name string) (any, bool) {
	v, ok := a.vars[name]
	return v, ok
}

func (a *pooledActivation) Parent() interpreter.Activation { return nil }

// reset copies vars and fills every declared variable the caller left out,
// so an expression that never mentions "target" still runs without one.
func (a *pooledActivation) reset(vars map[string]any) {
	clear(a.vars)
	for k, v := range vars {
		a.vars[k] = v
	}
	for _, name := range declared {
		if _, ok := a.vars[name]; ok {
			continue
		}
		switch name {
		case VarRec, VarVars, VarStorage, VarOrgs:
			a.vars[name] = map[string]any{}
		case VarParts:
			a.vars[name] = ""
		default:
			a.vars[name] = nil
		}
	}
}

var _ interpreter.Activation = (*pooledActivation)(nil)
