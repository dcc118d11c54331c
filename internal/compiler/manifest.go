package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/modux/internal/ir"
)

// ModelSpec is one model declared in a manifest.
type ModelSpec struct {
	// Namespace is the "/"-joined path of the model under models:.
	Namespace    string
	Dynamic      bool
	AutoRegister bool

	// State is the initial state. Strings of the form ${args.NAME} are
	// replaced by the resolved argument when a container is materialized.
	State ir.Value

	ArgDefaults  ir.Object
	ArgsRequired []string

	Reducers  map[string]ReducerSpec
	Effects   map[string]EffectSpec
	Selectors map[string]SelectorSpec

	Pos token.Pos
}

// ReducerSpec is a declarative reducer. Op is one of set, merge, add,
// toggle, append, delete. Path is a dotted path inside the model's state
// ("" addresses the whole state). Value, when present, is used instead of
// the action payload; By is the increment of add.
type ReducerSpec struct {
	Op    string
	Path  string
	Value ir.Value
	By    *int64
	Pos   token.Pos
}

// DispatchSpec is one action dispatched by an effect. Action is a local
// action name of the same container or a full action type containing "/".
type DispatchSpec struct {
	Action  string
	Payload ir.Value
}

// EffectSpec is a declarative effect: dispatch the listed actions in order,
// then resolve with Result or reject with Fail.
type EffectSpec struct {
	Dispatch []DispatchSpec
	Result   ir.Value
	Fail     string
	Pos      token.Pos
}

// SelectorSpec is a declarative getter over the model's state. Op is
// "value" (default), "count" (length of an array or object), "keys", or
// "not" (boolean negation).
type SelectorSpec struct {
	Path string
	Op   string
	Pos  token.Pos
}

// Reducer operations.
const (
	OpSet    = "set"
	OpMerge  = "merge"
	OpAdd    = "add"
	OpToggle = "toggle"
	OpAppend = "append"
	OpDelete = "delete"
)

// Selector operations.
const (
	SelectValue = "value"
	SelectCount = "count"
	SelectKeys  = "keys"
	SelectNot   = "not"
)

// CompileModels compiles the naming tree found at the models: field of v.
// A struct with a state field is a model; any other struct is a group whose
// fields are compiled recursively. Models are returned in namespace order.
func CompileModels(v cue.Value) ([]*ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(err, "models")
	}
	var out []*ModelSpec
	if err := compileTree(v, "", "models", &out); err != nil {
		return nil, err
	}
	sortSpecs(out)
	return out, nil
}

func compileTree(v cue.Value, prefix, field string, out *[]*ModelSpec) error {
	iter, err := v.Fields()
	if err != nil {
		return cueError(err, field)
	}
	for iter.Next() {
		if err := compileEntry(iter.Label(), iter.Value(), prefix, field, out); err != nil {
			return err
		}
	}
	return nil
}

// compileEntry compiles the field label of a group: a model when it has a
// state field, a nested group otherwise.
func compileEntry(label string, v cue.Value, prefix, field string, out *[]*ModelSpec) error {
	ns := label
	if prefix != "" {
		ns = prefix + "/" + label
	}
	field += "." + label

	if v.IncompleteKind() != cue.StructKind {
		return &CompileError{
			Field:   field,
			Message: "expected a model or a group of models",
			Pos:     v.Pos(),
		}
	}
	if v.LookupPath(cue.ParsePath("state")).Exists() {
		spec, err := CompileModel(ns, v)
		if err != nil {
			return err
		}
		*out = append(*out, spec)
		return nil
	}
	return compileTree(v, ns, field, out)
}

func sortSpecs(specs []*ModelSpec) {
	slices.SortFunc(specs, func(a, b *ModelSpec) int {
		return strings.Compare(a.Namespace, b.Namespace)
	})
}

// CompileModel compiles one model struct registered under namespace.
func CompileModel(namespace string, v cue.Value) (*ModelSpec, error) {
	field := "models." + namespaceField(namespace)
	if err := v.Err(); err != nil {
		return nil, cueError(err, field)
	}

	spec := &ModelSpec{
		Namespace: namespace,
		Reducers:  make(map[string]ReducerSpec),
		Effects:   make(map[string]EffectSpec),
		Selectors: make(map[string]SelectorSpec),
		Pos:       v.Pos(),
	}

	state, err := ValueOf(v.LookupPath(cue.ParsePath("state")), field+".state")
	if err != nil {
		return nil, err
	}
	spec.State = state

	if spec.Dynamic, err = optionalBool(v, "dynamic", field); err != nil {
		return nil, err
	}
	if spec.AutoRegister, err = optionalBool(v, "autoRegister", field); err != nil {
		return nil, err
	}

	if err := compileArgs(v, field, spec); err != nil {
		return nil, err
	}
	if err := compileReducers(v, field, spec); err != nil {
		return nil, err
	}
	if err := compileEffects(v, field, spec); err != nil {
		return nil, err
	}
	if err := compileSelectors(v, field, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func namespaceField(namespace string) string {
	return strings.ReplaceAll(namespace, "/", ".")
}

func optionalBool(v cue.Value, name, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, cueError(err, field+"."+name)
	}
	return b, nil
}

func optionalString(v cue.Value, name, field string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, cueError(err, field+"."+name)
	}
	return s, true, nil
}

func optionalValue(v cue.Value, name, field string) (ir.Value, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return nil, nil
	}
	return ValueOf(f, field+"."+name)
}

func compileArgs(v cue.Value, field string, spec *ModelSpec) error {
	args := v.LookupPath(cue.ParsePath("args"))
	if !args.Exists() {
		return nil
	}
	field += ".args"

	defaults, err := optionalValue(args, "defaults", field)
	if err != nil {
		return err
	}
	if defaults != nil {
		obj, ok := defaults.(ir.Object)
		if !ok {
			return &CompileError{Field: field + ".defaults", Message: "defaults must be a struct", Pos: args.Pos()}
		}
		spec.ArgDefaults = obj
	}

	required := args.LookupPath(cue.ParsePath("required"))
	if !required.Exists() {
		return nil
	}
	iter, err := required.List()
	if err != nil {
		return cueError(err, field+".required")
	}
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return cueError(err, field+".required")
		}
		spec.ArgsRequired = append(spec.ArgsRequired, name)
	}
	return nil
}

func compileReducers(v cue.Value, field string, spec *ModelSpec) error {
	reducers := v.LookupPath(cue.ParsePath("reducers"))
	if !reducers.Exists() {
		return nil
	}
	iter, err := reducers.Fields()
	if err != nil {
		return cueError(err, field+".reducers")
	}
	for iter.Next() {
		name := iter.Label()
		rv := iter.Value()
		rf := field + ".reducers." + name

		op, ok, err := optionalString(rv, "op", rf)
		if err != nil {
			return err
		}
		if !ok {
			return &CompileError{Field: rf + ".op", Message: "op is required", Pos: rv.Pos()}
		}
		path, _, err := optionalString(rv, "path", rf)
		if err != nil {
			return err
		}
		value, err := optionalValue(rv, "value", rf)
		if err != nil {
			return err
		}

		rs := ReducerSpec{Op: op, Path: path, Value: value, Pos: rv.Pos()}
		if by := rv.LookupPath(cue.ParsePath("by")); by.Exists() {
			n, err := by.Int64()
			if err != nil {
				return cueError(err, rf+".by")
			}
			rs.By = &n
		}
		spec.Reducers[name] = rs
	}
	return nil
}

func compileEffects(v cue.Value, field string, spec *ModelSpec) error {
	effects := v.LookupPath(cue.ParsePath("effects"))
	if !effects.Exists() {
		return nil
	}
	iter, err := effects.Fields()
	if err != nil {
		return cueError(err, field+".effects")
	}
	for iter.Next() {
		name := iter.Label()
		ev := iter.Value()
		ef := field + ".effects." + name

		es := EffectSpec{Pos: ev.Pos()}
		if dispatch := ev.LookupPath(cue.ParsePath("dispatch")); dispatch.Exists() {
			list, err := dispatch.List()
			if err != nil {
				return cueError(err, ef+".dispatch")
			}
			for i := 0; list.Next(); i++ {
				df := fmt.Sprintf("%s.dispatch[%d]", ef, i)
				act, ok, err := optionalString(list.Value(), "action", df)
				if err != nil {
					return err
				}
				if !ok {
					return &CompileError{Field: df + ".action", Message: "action is required", Pos: list.Value().Pos()}
				}
				payload, err := optionalValue(list.Value(), "payload", df)
				if err != nil {
					return err
				}
				es.Dispatch = append(es.Dispatch, DispatchSpec{Action: act, Payload: payload})
			}
		}
		if es.Result, err = optionalValue(ev, "result", ef); err != nil {
			return err
		}
		if es.Fail, _, err = optionalString(ev, "fail", ef); err != nil {
			return err
		}
		spec.Effects[name] = es
	}
	return nil
}

func compileSelectors(v cue.Value, field string, spec *ModelSpec) error {
	selectors := v.LookupPath(cue.ParsePath("selectors"))
	if !selectors.Exists() {
		return nil
	}
	iter, err := selectors.Fields()
	if err != nil {
		return cueError(err, field+".selectors")
	}
	for iter.Next() {
		name := iter.Label()
		sv := iter.Value()
		sf := field + ".selectors." + name

		path, _, err := optionalString(sv, "path", sf)
		if err != nil {
			return err
		}
		op, ok, err := optionalString(sv, "op", sf)
		if err != nil {
			return err
		}
		if !ok {
			op = SelectValue
		}
		spec.Selectors[name] = SelectorSpec{Path: path, Op: op, Pos: sv.Pos()}
	}
	return nil
}
