package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"recmig/internal/config"
	"recmig/internal/gate"
)

// Factory builds a stage from its configuration. st.Options already has the
// pipeline defaults merged in.
type Factory func(env *Env, st config.Stage) (Stage, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for a stage kind. Stage
// packages call it from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered stage kinds.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the stages of p in order. Stages whose part code is not
// selected are built and then replaced by a pass-through shim.
func Build(env *Env, p config.Pipeline) ([]Stage, error) {
	stages := make([]Stage, 0, len(p.Stages))
	for i, st := range p.Stages {
		regMu.RLock()
		f, ok := factories[st.Kind]
		regMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("stages[%d] %s: unknown kind %q", i, st.Name, st.Kind)
		}

		st.Options = p.StageOptions(st)
		s, err := f(env, st)
		if err != nil {
			return nil, fmt.Errorf("stages[%d] %s: %w", i, st.Name, err)
		}

		if !gate.IsActive(st.Name, st.Part, env.Store.Parts()) {
			env.Log.Debug("pipeline: stage disabled", "stage", st.Name, "parts", env.Store.Parts())
			if s, err = Disable(s); err != nil {
				return nil, fmt.Errorf("stages[%d] %s: close disabled stage: %w", i, st.Name, err)
			}
		}
		stages = append(stages, s)
	}
	return stages, nil
}
