package model

import (
	"slices"
	"strings"
)

// ReducerNode is a Reducer leaf or a nested Reducers map.
type ReducerNode interface {
	reducerNode()
}

// Reducers is a naming tree of reducers.
type Reducers map[string]ReducerNode

func (Reducers) reducerNode() {}
func (Reducer) reducerNode()  {}

// EffectNode is an Effect leaf or a nested Effects map.
type EffectNode interface {
	effectNode()
}

// Effects is a naming tree of effects.
type Effects map[string]EffectNode

func (Effects) effectNode() {}
func (Effect) effectNode()  {}

// SelectorNode is a Selector leaf or a nested Selectors map.
type SelectorNode interface {
	selectorNode()
}

// Selectors is a naming tree of selectors.
type Selectors map[string]SelectorNode

func (Selectors) selectorNode() {}
func (Selector) selectorNode()  {}

// WalkReducers calls fn for every reducer leaf in sorted path order.
func WalkReducers(tree Reducers, fn func(path []string, r Reducer)) {
	walk(tree, nil, fn)
}

// WalkEffects calls fn for every effect leaf in sorted path order.
func WalkEffects(tree Effects, fn func(path []string, e Effect)) {
	walk(tree, nil, fn)
}

// WalkSelectors calls fn for every selector leaf in sorted path order.
func WalkSelectors(tree Selectors, fn func(path []string, s Selector)) {
	walk(tree, nil, fn)
}

func walk[N any, T ~map[string]N, L any](tree T, prefix []string, visit func([]string, L)) {
	for _, k := range sortedKeys(tree) {
		path := append(slices.Clone(prefix), k)
		switch n := any(tree[k]).(type) {
		case L:
			visit(path, n)
		case T:
			walk(n, path, visit)
		}
	}
}

func cloneTree[N any, T ~map[string]N](tree T) T {
	if tree == nil {
		return nil
	}
	out := make(T, len(tree))
	for k, v := range tree {
		if sub, ok := any(v).(T); ok {
			out[k] = any(cloneTree(sub)).(N)
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys[V any, M ~map[string]V](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// DotPath joins a tree path with ".", the default action-name resolver.
func DotPath(path []string) string {
	return strings.Join(path, ".")
}
