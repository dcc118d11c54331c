package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// FromGo converts a Go value into a Value.
//
// Accepted inputs are nil, Value implementations, strings, booleans, all
// integer kinds, json.Number, integral floats, []any, []string, []Value,
// map[string]any, map[string]string and map[string]Value. Floats with a
// fractional part are rejected because state never carries them.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return fromUint(val)
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		i, err := strconv.ParseInt(string(val), 10, 64)
		if err == nil {
			return Int(i), nil
		}
		f, ferr := val.Float64()
		if ferr != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return fromFloat(f)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case []Value:
		return Array(val), nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			converted, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	case map[string]Value:
		return Object(val), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// MustFromGo is FromGo for literals known to be valid. It panics on error.
func MustFromGo(v any) Value {
	out, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("floats are forbidden: %v has a fractional part", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("number %v overflows int64", f)
	}
	return Int(int64(f)), nil
}

// ToGo converts a Value back into plain Go values: nil, string, int64,
// bool, []any and map[string]any.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}
