// Package draft produces structurally shared successors of ir values from
// mutation-style recipes.
//
// A Draft wraps a base value. The first write below a container makes a
// shallow copy of it and of every container on the way up to the root; later
// writes to the same containers mutate those copies in place. Branches that
// were never written keep their identity, so callers can detect unchanged
// sub-trees with ir.Same.
//
// A Draft is only valid inside the recipe passed to Produce and is not safe
// for concurrent use.
package draft

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/modux/internal/ir"
)

// Draft is a mutable view over an immutable value.
type Draft struct {
	root  ir.Value
	owned map[uintptr]struct{}
	err   error
}

// Produce runs recipe against a draft of base and returns the next value.
//
// If the recipe makes no effective change the result is base itself. The
// first path error recorded by the recipe is returned together with base. A
// panicking recipe is reported as an error.
func Produce(base ir.Value, recipe func(d *Draft)) (out ir.Value, err error) {
	d := &Draft{root: base, owned: make(map[uintptr]struct{})}

	defer func() {
		if r := recover(); r != nil {
			out, err = base, fmt.Errorf("draft: recipe panicked: %v", r)
		}
	}()

	recipe(d)
	if d.err != nil {
		return base, d.err
	}
	return d.root, nil
}

// PathError records a failed draft operation.
type PathError struct {
	Op     string
	Path   []any
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("draft %s %s: %s", e.Op, FormatPath(e.Path), e.Reason)
}

// FormatPath renders path segments as a dotted path.
func FormatPath(path []any) string {
	if len(path) == 0 {
		return "<root>"
	}
	parts := make([]string, len(path))
	for i, seg := range path {
		parts[i] = fmt.Sprint(seg)
	}
	return strings.Join(parts, ".")
}

// Err returns the first error recorded by the draft.
func (d *Draft) Err() error {
	return d.err
}

// Abort records err as the draft's error. Later writes are ignored and
// Produce returns the base value together with err.
func (d *Draft) Abort(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

// Current returns the value as it stands after the writes so far.
func (d *Draft) Current() ir.Value {
	return d.root
}

func (d *Draft) fail(op string, path []any, format string, args ...any) {
	if d.err == nil {
		d.err = &PathError{Op: op, Path: path, Reason: fmt.Sprintf(format, args...)}
	}
}

// Get returns the value at path, or nil when any segment is missing.
func (d *Draft) Get(path ...any) ir.Value {
	v, _ := lookup(d.root, path)
	return v
}

// Has reports whether path addresses an existing value (including Null).
func (d *Draft) Has(path ...any) bool {
	_, ok := lookup(d.root, path)
	return ok
}

// Set writes v at path, creating missing intermediate objects.
// An empty path replaces the whole value.
func (d *Draft) Set(v ir.Value, path ...any) {
	if d.err != nil {
		return
	}
	if v == nil {
		v = ir.Null{}
	}
	if len(path) == 0 {
		d.root = v
		return
	}

	last := path[len(path)-1]
	root, err := d.mutate(d.root, path[:len(path)-1], true, func(parent ir.Value) (ir.Value, error) {
		return d.setChild(parent, last, v)
	})
	if err != nil {
		d.fail("set", path, "%v", err)
		return
	}
	d.root = root
}

// Update replaces the value at path with fn applied to it. fn receives nil
// when the path does not exist yet.
func (d *Draft) Update(fn func(ir.Value) ir.Value, path ...any) {
	if d.err != nil {
		return
	}
	d.Set(fn(d.Get(path...)), path...)
}

// Delete removes the object key or array element addressed by path.
// Deleting a missing path is a no-op.
func (d *Draft) Delete(path ...any) {
	if d.err != nil {
		return
	}
	if len(path) == 0 {
		d.fail("delete", path, "cannot delete the root")
		return
	}

	last := path[len(path)-1]
	root, err := d.mutate(d.root, path[:len(path)-1], false, func(parent ir.Value) (ir.Value, error) {
		return d.deleteChild(parent, last)
	})
	if err != nil {
		d.fail("delete", path, "%v", err)
		return
	}
	d.root = root
}

// Append adds v to the array at path. A missing path starts a new array.
func (d *Draft) Append(v ir.Value, path ...any) {
	if d.err != nil {
		return
	}
	if v == nil {
		v = ir.Null{}
	}

	switch cur := d.Get(path...).(type) {
	case nil, ir.Null:
		d.Set(ir.Array{v}, path...)
	case ir.Array:
		arr := append(d.ownArray(cur), v)
		d.owned[ir.Identity(arr)] = struct{}{}
		d.Set(arr, path...)
	default:
		d.fail("append", path, "target is %T, not an array", cur)
	}
}

// Merge shallow-merges the keys of obj into the object at path.
// Keys whose values are already the same are left untouched.
func (d *Draft) Merge(obj ir.Object, path ...any) {
	if d.err != nil {
		return
	}

	switch cur := d.Get(path...).(type) {
	case nil, ir.Null:
		d.Set(obj.Clone(), path...)
	case ir.Object:
		for _, k := range obj.SortedKeys() {
			d.Set(obj[k], appendPath(path, k)...)
		}
	default:
		d.fail("merge", path, "target is %T, not an object", cur)
	}
}

func appendPath(path []any, seg any) []any {
	out := make([]any, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// mutate walks path below node and calls leaf with the container found
// there. Containers along the way are copied only when leaf reports a change.
func (d *Draft) mutate(node ir.Value, path []any, create bool, leaf func(ir.Value) (ir.Value, error)) (ir.Value, error) {
	if len(path) == 0 {
		return leaf(node)
	}

	seg := path[0]
	switch n := node.(type) {
	case nil, ir.Null:
		if !create {
			return node, nil
		}
		key, err := objectKey(seg)
		if err != nil {
			return nil, err
		}
		child, err := d.mutate(nil, path[1:], create, leaf)
		if err != nil {
			return nil, err
		}
		obj := d.newObject()
		obj[key] = child
		return obj, nil

	case ir.Object:
		key, err := objectKey(seg)
		if err != nil {
			return nil, err
		}
		child, exists := n[key]
		if !exists && !create {
			return node, nil
		}
		next, err := d.mutate(child, path[1:], create, leaf)
		if err != nil {
			return nil, err
		}
		if exists && ir.Same(next, child) {
			return node, nil
		}
		obj := d.ownObject(n)
		obj[key] = next
		return obj, nil

	case ir.Array:
		idx, err := arrayIndex(seg, len(n))
		if err != nil {
			return nil, err
		}
		next, err := d.mutate(n[idx], path[1:], create, leaf)
		if err != nil {
			return nil, err
		}
		if ir.Same(next, n[idx]) {
			return node, nil
		}
		arr := d.ownArray(n)
		arr[idx] = next
		return arr, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T at %v", node, seg)
	}
}

func (d *Draft) setChild(parent ir.Value, seg any, v ir.Value) (ir.Value, error) {
	switch p := parent.(type) {
	case nil, ir.Null:
		key, err := objectKey(seg)
		if err != nil {
			return nil, err
		}
		obj := d.newObject()
		obj[key] = v
		return obj, nil

	case ir.Object:
		key, err := objectKey(seg)
		if err != nil {
			return nil, err
		}
		if cur, ok := p[key]; ok && ir.Same(cur, v) {
			return parent, nil
		}
		obj := d.ownObject(p)
		obj[key] = v
		return obj, nil

	case ir.Array:
		// Index len(p) appends.
		idx, err := arrayIndex(seg, len(p)+1)
		if err != nil {
			return nil, err
		}
		if idx < len(p) && ir.Same(p[idx], v) {
			return parent, nil
		}
		arr := d.ownArray(p)
		if idx == len(arr) {
			arr = append(arr, v)
			d.owned[ir.Identity(arr)] = struct{}{}
		} else {
			arr[idx] = v
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("cannot set %v on %T", seg, parent)
	}
}

func (d *Draft) deleteChild(parent ir.Value, seg any) (ir.Value, error) {
	switch p := parent.(type) {
	case nil, ir.Null:
		return parent, nil

	case ir.Object:
		key, err := objectKey(seg)
		if err != nil {
			return nil, err
		}
		if _, ok := p[key]; !ok {
			return parent, nil
		}
		obj := d.ownObject(p)
		delete(obj, key)
		return obj, nil

	case ir.Array:
		idx, err := arrayIndex(seg, len(p))
		if err != nil {
			return parent, nil
		}
		arr := make(ir.Array, 0, len(p))
		arr = append(arr, p[:idx]...)
		arr = append(arr, p[idx+1:]...)
		if cap(arr) > 0 {
			d.owned[ir.Identity(arr)] = struct{}{}
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("cannot delete %v from %T", seg, parent)
	}
}

func (d *Draft) newObject() ir.Object {
	obj := make(ir.Object)
	d.owned[ir.Identity(obj)] = struct{}{}
	return obj
}

func (d *Draft) ownObject(obj ir.Object) ir.Object {
	if _, ok := d.owned[ir.Identity(obj)]; ok && obj != nil {
		return obj
	}
	clone := obj.Clone()
	d.owned[ir.Identity(clone)] = struct{}{}
	return clone
}

// ownArray returns an owned copy of arr. Copies always get spare capacity so
// their identity never collides with a shared zero-size allocation.
func (d *Draft) ownArray(arr ir.Array) ir.Array {
	if id := ir.Identity(arr); id != 0 {
		if _, ok := d.owned[id]; ok {
			return arr
		}
	}
	clone := make(ir.Array, len(arr), len(arr)+1)
	copy(clone, arr)
	d.owned[ir.Identity(clone)] = struct{}{}
	return clone
}

func lookup(node ir.Value, path []any) (ir.Value, bool) {
	cur := node
	for _, seg := range path {
		switch n := cur.(type) {
		case ir.Object:
			key, err := objectKey(seg)
			if err != nil {
				return nil, false
			}
			next, ok := n[key]
			if !ok {
				return nil, false
			}
			cur = next
		case ir.Array:
			idx, err := arrayIndex(seg, len(n))
			if err != nil {
				return nil, false
			}
			cur = n[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Lookup reads the value at path without a draft.
func Lookup(node ir.Value, path ...any) (ir.Value, bool) {
	return lookup(node, path)
}

func objectKey(seg any) (string, error) {
	switch s := seg.(type) {
	case string:
		return s, nil
	case int:
		return strconv.Itoa(s), nil
	default:
		return "", fmt.Errorf("invalid path segment %v (%T)", seg, seg)
	}
}

// arrayIndex resolves seg to an index in [0, limit).
func arrayIndex(seg any, limit int) (int, error) {
	var idx int
	switch s := seg.(type) {
	case int:
		idx = s
	case string:
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("array index %q is not a number", s)
		}
		idx = n
	default:
		return 0, fmt.Errorf("invalid array index %v (%T)", seg, seg)
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("array index %d out of range", idx)
	}
	return idx, nil
}

// ParsePath splits a dotted path into segments. The empty string is the root.
func ParsePath(dotted string) []any {
	if dotted == "" {
		return nil
	}
	parts := strings.Split(dotted, ".")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}
