package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/modux/internal/ir"
)

// ArgsContext is passed to an ArgsFactory.
type ArgsContext struct {
	Namespace    string
	Key          string
	Dependencies map[string]any
}

// ArgSpec lists default construction arguments and the names that must be
// supplied when no default exists.
type ArgSpec struct {
	Defaults ir.Object
	Required []string
}

// ArgsFactory produces the argument spec for one container.
type ArgsFactory func(ac ArgsContext) ArgSpec

// StateContext is passed to a StateFactory.
type StateContext struct {
	Namespace    string
	Key          string
	Args         ir.Object
	Dependencies map[string]any
}

// StateFactory produces the initial state of one container.
type StateFactory func(sc StateContext) (ir.Value, error)

// ArgError reports required arguments that have neither a staged value nor
// a default.
type ArgError struct {
	Missing []string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("required argument(s) missing: %s", strings.Join(e.Missing, ", "))
}

// ResolveArgs merges staged args over the spec defaults. Every required name
// must be present in the result.
func ResolveArgs(spec ArgSpec, staged ir.Object) (ir.Object, error) {
	out := make(ir.Object, len(spec.Defaults)+len(staged))
	for k, v := range spec.Defaults {
		out[k] = v
	}
	for k, v := range staged {
		out[k] = v
	}

	var missing []string
	for _, name := range spec.Required {
		if _, ok := out[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, &ArgError{Missing: missing}
	}
	return out, nil
}

// Args is a convenience ArgsFactory for fixed defaults and required names.
func Args(defaults ir.Object, required ...string) ArgsFactory {
	return func(ArgsContext) ArgSpec {
		return ArgSpec{Defaults: defaults, Required: required}
	}
}

// State is a convenience StateFactory returning a fixed initial state.
func State(initial ir.Value) StateFactory {
	return func(StateContext) (ir.Value, error) {
		return initial, nil
	}
}
