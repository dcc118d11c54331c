package ir

import (
	"reflect"
	"unsafe"
)

// Identity returns the address of the storage behind a container value.
// Scalars and empty containers without backing storage report 0.
func Identity(v Value) uintptr {
	switch val := v.(type) {
	case Object:
		if val == nil {
			return 0
		}
		return uintptr(reflect.ValueOf(val).UnsafePointer())
	case Array:
		if cap(val) == 0 {
			return 0
		}
		return uintptr(unsafe.Pointer(unsafe.SliceData(val)))
	default:
		return 0
	}
}

// Same reports whether a and b are the same value by reference.
//
// Containers are the same only when they share storage (and, for arrays,
// length). Scalars compare by value. Same is the cheap check used to detect
// that a reducer left state untouched.
func Same(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Object:
		bv, ok := b.(Object)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return Identity(av) == Identity(bv)
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		return unsafe.SliceData(av) == unsafe.SliceData(bv)
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	default:
		return false
	}
}

// Equal reports deep structural equality. A nil Value equals Null.
func Equal(a, b Value) bool {
	if Same(a, b) {
		return true
	}
	switch av := a.(type) {
	case nil, Null:
		switch b.(type) {
		case nil, Null:
			return true
		}
		return false
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, exists := bv[k]
			if !exists || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
