package model

import (
	"reflect"
	"sync"

	"github.com/roach88/modux/internal/ir"
)

// Selector computes a derived value. cache is private to one
// (container, selector path) pair.
type Selector func(sc *SelectorContext, cache *SelectorCache) any

// Input is one input of a memoized selector. prev is the value this input
// produced on the previous evaluation (nil the first time).
type Input func(sc *SelectorContext, prev any) any

// SelectorCache holds the memo of one selector instance.
type SelectorCache struct {
	mu     sync.Mutex
	inputs []any
	result any
	ready  bool
}

// Reset drops the memo.
func (c *SelectorCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = nil
	c.result = nil
	c.ready = false
}

// CreateSelector builds a memoized selector. On each evaluation every input
// is recomputed against its previous value; combine runs only on the first
// evaluation or when at least one input changed by identity. prev is the
// previous combined result.
func CreateSelector(combine func(values []any, prev any) any, inputs ...Input) Selector {
	return func(sc *SelectorContext, cache *SelectorCache) any {
		cache.mu.Lock()
		defer cache.mu.Unlock()

		values := make([]any, len(inputs))
		changed := !cache.ready
		for i, in := range inputs {
			var prev any
			if cache.ready {
				prev = cache.inputs[i]
			}
			values[i] = in(sc, prev)
			if !changed && !Identical(values[i], prev) {
				changed = true
			}
		}

		if !changed {
			return cache.result
		}
		cache.result = combine(values, cache.result)
		cache.inputs = values
		cache.ready = true
		return cache.result
	}
}

// StateInput is an Input reading the container sub-state.
func StateInput(sc *SelectorContext, _ any) any {
	return sc.State
}

// PathInput returns an Input reading the sub-state value at path.
func PathInput(path ...string) Input {
	return func(sc *SelectorContext, _ any) any {
		cur := sc.State
		for _, seg := range path {
			v, ok := ir.Lookup(cur, seg)
			if !ok {
				return nil
			}
			cur = v
		}
		return cur
	}
}

// GetterInput returns an Input reading another getter of the same container.
func GetterInput(path string) Input {
	return func(sc *SelectorContext, _ any) any {
		if sc.Getters == nil {
			return nil
		}
		v, err := sc.Getters.Get(path)
		if err != nil {
			return nil
		}
		return v
	}
}

// Identical compares selector inputs by reference for containers and by
// value for everything else.
func Identical(a, b any) bool {
	av, aok := a.(ir.Value)
	bv, bok := b.(ir.Value)
	if aok && bok {
		return ir.Same(av, bv)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Len() == rb.Len() && ra.Pointer() == rb.Pointer()
	}
	if ra.Type().Comparable() {
		return a == b
	}
	return false
}
