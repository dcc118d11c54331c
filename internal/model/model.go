// Package model describes models: units of state, state transitions, derived
// values and asynchronous workflows that the registry composes into one store
// under hierarchical namespaces.
//
// A Definition is frozen by New into a *Model. Model identity is the pointer:
// the registry refuses to bind the same *Model under two namespaces.
package model

import (
	"fmt"

	"github.com/roach88/modux/internal/ir"
)

// Options are per-model flags.
type Options struct {
	// AutoRegister registers a container with default args the first time an
	// action is routed to its namespace.
	AutoRegister bool
}

// Definition is the mutable blueprint of a model.
type Definition struct {
	Name      string
	Args      ArgsFactory
	State     StateFactory
	Selectors Selectors
	Reducers  Reducers
	Effects   Effects
	Epics     []Epic
	Options   Options
}

// Model is a frozen definition.
type Model struct {
	def Definition
}

// New freezes def. The trees are copied so later edits to def do not leak
// into the model.
func New(def Definition) *Model {
	def.Selectors = cloneTree(def.Selectors)
	def.Reducers = cloneTree(def.Reducers)
	def.Effects = cloneTree(def.Effects)
	def.Epics = append([]Epic(nil), def.Epics...)
	return &Model{def: def}
}

// Name returns the model's display name (may be empty).
func (m *Model) Name() string {
	return m.def.Name
}

func (m *Model) String() string {
	if m.def.Name == "" {
		return fmt.Sprintf("model(%p)", m)
	}
	return m.def.Name
}

// Options returns the model options.
func (m *Model) Options() Options {
	return m.def.Options
}

// Reducers returns the reducer tree. Callers must not modify it.
func (m *Model) Reducers() Reducers {
	return m.def.Reducers
}

// Effects returns the effect tree. Callers must not modify it.
func (m *Model) Effects() Effects {
	return m.def.Effects
}

// Selectors returns the selector tree. Callers must not modify it.
func (m *Model) Selectors() Selectors {
	return m.def.Selectors
}

// Epics returns the model's long-running processors.
func (m *Model) Epics() []Epic {
	return m.def.Epics
}

// ArgSpec evaluates the args factory. A model without one takes no args.
func (m *Model) ArgSpec(ac ArgsContext) ArgSpec {
	if m.def.Args == nil {
		return ArgSpec{}
	}
	return m.def.Args(ac)
}

// InitialState evaluates the state factory with resolved args. A model
// without one starts from an empty object.
func (m *Model) InitialState(sc StateContext) (ir.Value, error) {
	if m.def.State == nil {
		return ir.Object{}, nil
	}
	v, err := m.def.State(sc)
	if err != nil {
		return nil, fmt.Errorf("model %s: state: %w", m, err)
	}
	if v == nil {
		return ir.Null{}, nil
	}
	return v, nil
}

// Array is an ordered list of model variants registered under one base
// namespace. Each dynamic key is bound to one variant by index.
type Array []*Model

// TreeNode is a *Model, an Array, or a nested Tree.
type TreeNode interface {
	treeNode()
}

func (*Model) treeNode() {}
func (Array) treeNode()  {}

// Tree is a nested naming tree of models. The path of a model in the tree
// becomes its namespace.
type Tree map[string]TreeNode

func (Tree) treeNode() {}

// Binding is one registrable entry found in a Tree.
type Binding struct {
	Namespace string
	Models    Array
	Dynamic   bool
}

// Flatten lists the bindings of a tree in sorted namespace order.
func Flatten(tree Tree) []Binding {
	var out []Binding
	flattenInto(&out, tree, "")
	return out
}

func flattenInto(out *[]Binding, tree Tree, prefix string) {
	for _, k := range sortedKeys(tree) {
		ns := k
		if prefix != "" {
			ns = prefix + "/" + k
		}
		switch n := tree[k].(type) {
		case *Model:
			*out = append(*out, Binding{Namespace: ns, Models: Array{n}})
		case Array:
			*out = append(*out, Binding{Namespace: ns, Models: n, Dynamic: true})
		case Tree:
			flattenInto(out, n, ns)
		}
	}
}
