package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
)

// Bundle is the result of building a set of model specs.
type Bundle struct {
	// Tree nests every model under its namespace segments, ready for
	// engine.RegisterModels.
	Tree model.Tree
	// Models indexes the built models by namespace.
	Models map[string]*model.Model
	Specs  map[string]*ModelSpec
}

// Namespaces returns the namespaces of the bundle in sorted order.
func (b *Bundle) Namespaces() []string {
	out := make([]string, 0, len(b.Models))
	for ns := range b.Models {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Build turns validated specs into models. Dynamic specs become a
// single-variant model.Array.
func Build(specs []*ModelSpec) (*Bundle, error) {
	b := &Bundle{
		Tree:   model.Tree{},
		Models: make(map[string]*model.Model, len(specs)),
		Specs:  make(map[string]*ModelSpec, len(specs)),
	}
	for _, spec := range specs {
		if _, dup := b.Models[spec.Namespace]; dup {
			return nil, &CompileError{Field: "models." + namespaceField(spec.Namespace), Message: "duplicate model", Pos: spec.Pos}
		}
		m, err := BuildModel(spec)
		if err != nil {
			return nil, err
		}
		var node model.TreeNode = m
		if spec.Dynamic {
			node = model.Array{m}
		}
		if err := insert(b.Tree, strings.Split(spec.Namespace, "/"), node); err != nil {
			return nil, &CompileError{Field: "models." + namespaceField(spec.Namespace), Message: err.Error(), Pos: spec.Pos}
		}
		b.Models[spec.Namespace] = m
		b.Specs[spec.Namespace] = spec
	}
	return b, nil
}

func insert(tree model.Tree, segs []string, node model.TreeNode) error {
	head := segs[0]
	if len(segs) == 1 {
		if _, exists := tree[head]; exists {
			return fmt.Errorf("namespace segment %q is already taken", head)
		}
		tree[head] = node
		return nil
	}
	sub, ok := tree[head]
	if !ok {
		sub = model.Tree{}
		tree[head] = sub
	}
	group, ok := sub.(model.Tree)
	if !ok {
		return fmt.Errorf("namespace segment %q is a model, not a group", head)
	}
	return insert(group, segs[1:], node)
}

// BuildModel turns one spec into a model.
func BuildModel(spec *ModelSpec) (*model.Model, error) {
	def := model.Definition{
		Name:      spec.Namespace,
		Args:      model.Args(spec.ArgDefaults, spec.ArgsRequired...),
		State:     stateFactory(spec.State),
		Reducers:  model.Reducers{},
		Effects:   model.Effects{},
		Selectors: model.Selectors{},
		Options:   model.Options{AutoRegister: spec.AutoRegister},
	}
	for name, rs := range spec.Reducers {
		r, err := buildReducer(rs)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("models.%s.reducers.%s", namespaceField(spec.Namespace), name),
				Message: err.Error(),
				Pos:     rs.Pos,
			}
		}
		def.Reducers[name] = r
	}
	for name, es := range spec.Effects {
		def.Effects[name] = buildEffect(es)
	}
	for name, ss := range spec.Selectors {
		s, err := buildSelector(ss)
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("models.%s.selectors.%s", namespaceField(spec.Namespace), name),
				Message: err.Error(),
				Pos:     ss.Pos,
			}
		}
		def.Selectors[name] = s
	}
	return model.New(def), nil
}

func stateFactory(initial ir.Value) model.StateFactory {
	return func(sc model.StateContext) (ir.Value, error) {
		return Substitute(initial, ir.Object{"args": sc.Args})
	}
}

func buildReducer(rs ReducerSpec) (model.Reducer, error) {
	path := draft.ParsePath(rs.Path)
	operand := func(payload any) (ir.Value, error) {
		if rs.Value != nil {
			return Substitute(rs.Value, ir.Object{"payload": payloadValue(payload)})
		}
		return ir.FromGo(payload)
	}

	switch rs.Op {
	case OpSet:
		return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
			v, err := operand(payload)
			if err != nil {
				d.Abort(err)
				return
			}
			d.Set(v, path...)
		}, nil

	case OpMerge:
		return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
			v, err := operand(payload)
			if err != nil {
				d.Abort(err)
				return
			}
			obj, ok := v.(ir.Object)
			if !ok {
				d.Abort(fmt.Errorf("merge: payload is %T, not an object", v))
				return
			}
			d.Merge(obj, path...)
		}, nil

	case OpAdd:
		return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
			var delta ir.Int
			if rs.By != nil {
				delta = ir.Int(*rs.By)
			} else {
				v, err := ir.FromGo(payload)
				if err != nil {
					d.Abort(err)
					return
				}
				n, ok := v.(ir.Int)
				if !ok {
					d.Abort(fmt.Errorf("add: payload is %T, not an int", v))
					return
				}
				delta = n
			}
			switch cur := d.Get(path...).(type) {
			case nil, ir.Null:
				d.Set(delta, path...)
			case ir.Int:
				d.Set(cur+delta, path...)
			default:
				d.Abort(fmt.Errorf("add: %s is %T, not an int", draft.FormatPath(path), cur))
			}
		}, nil

	case OpToggle:
		return func(d *draft.Draft, _ any, _ *model.ReducerContext) {
			switch cur := d.Get(path...).(type) {
			case nil, ir.Null:
				d.Set(ir.Bool(true), path...)
			case ir.Bool:
				d.Set(!cur, path...)
			default:
				d.Abort(fmt.Errorf("toggle: %s is %T, not a bool", draft.FormatPath(path), cur))
			}
		}, nil

	case OpAppend:
		return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
			v, err := operand(payload)
			if err != nil {
				d.Abort(err)
				return
			}
			d.Append(v, path...)
		}, nil

	case OpDelete:
		return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
			if rs.Value == nil && payload == nil {
				d.Delete(path...)
				return
			}
			v, err := operand(payload)
			if err != nil {
				d.Abort(err)
				return
			}
			key, ok := v.(ir.String)
			if !ok {
				d.Abort(fmt.Errorf("delete: key is %T, not a string", v))
				return
			}
			d.Delete(append(path, string(key))...)
		}, nil
	}
	return nil, fmt.Errorf("unknown reducer op %q", rs.Op)
}

// payloadValue converts a payload for placeholder substitution. Payloads
// that cannot be represented substitute as null.
func payloadValue(payload any) ir.Value {
	v, err := ir.FromGo(payload)
	if err != nil {
		return ir.Null{}
	}
	return v
}

func buildEffect(es EffectSpec) model.Effect {
	return func(ctx context.Context, ec *model.EffectContext, payload any) (any, error) {
		vars := ir.Object{"payload": payloadValue(payload)}
		for _, ds := range es.Dispatch {
			var p ir.Value = ir.Null{}
			if ds.Payload != nil {
				v, err := Substitute(ds.Payload, vars)
				if err != nil {
					return nil, err
				}
				p = v
			}

			var f *action.Future
			if strings.Contains(ds.Action, "/") {
				f = ec.Dispatch(action.New(ds.Action, p))
			} else {
				f = ec.Actions.Dispatch(ds.Action, p)
			}
			if _, err := f.Wait(ctx); err != nil {
				return nil, fmt.Errorf("dispatch %s: %w", ds.Action, err)
			}
		}

		if es.Fail != "" {
			return nil, errors.New(es.Fail)
		}
		if es.Result == nil {
			return nil, nil
		}
		return Substitute(es.Result, vars)
	}
}

func buildSelector(ss SelectorSpec) (model.Selector, error) {
	var segs []string
	if ss.Path != "" {
		segs = strings.Split(ss.Path, ".")
	}
	input := model.PathInput(segs...)

	var combine func(v ir.Value) any
	switch ss.Op {
	case SelectValue, "":
		combine = func(v ir.Value) any { return v }
	case SelectCount:
		combine = func(v ir.Value) any {
			switch c := v.(type) {
			case ir.Array:
				return ir.Int(len(c))
			case ir.Object:
				return ir.Int(len(c))
			}
			return ir.Int(0)
		}
	case SelectKeys:
		combine = func(v ir.Value) any {
			obj, ok := v.(ir.Object)
			if !ok {
				return ir.Array{}
			}
			keys := obj.SortedKeys()
			out := make(ir.Array, len(keys))
			for i, k := range keys {
				out[i] = ir.String(k)
			}
			return out
		}
	case SelectNot:
		combine = func(v ir.Value) any {
			b, _ := v.(ir.Bool)
			return !b
		}
	default:
		return nil, fmt.Errorf("unknown selector op %q", ss.Op)
	}

	return model.CreateSelector(func(values []any, _ any) any {
		v, _ := values[0].(ir.Value)
		if v == nil {
			v = ir.Null{}
		}
		return combine(v)
	}, input), nil
}
