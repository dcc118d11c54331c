package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/modux/internal/ir"
)

// Substitute replaces ${ref} placeholders in string values of v. A ref is
// a dotted path into vars ("args.name", "payload.id"). A string that is
// exactly one placeholder takes the referenced value with its type; a
// placeholder embedded in a longer string is interpolated and must refer
// to a string, int, or bool. Object keys are interpolated as well. Values
// without placeholders are returned unchanged.
func Substitute(v ir.Value, vars ir.Object) (ir.Value, error) {
	switch val := v.(type) {
	case ir.String:
		return substituteString(string(val), vars)

	case ir.Array:
		var out ir.Array
		for i, elem := range val {
			next, err := Substitute(elem, vars)
			if err != nil {
				return nil, err
			}
			if out == nil && !ir.Same(next, elem) {
				out = val.Clone()
			}
			if out != nil {
				out[i] = next
			}
		}
		if out == nil {
			return val, nil
		}
		return out, nil

	case ir.Object:
		var out ir.Object
		for _, k := range val.SortedKeys() {
			next, err := Substitute(val[k], vars)
			if err != nil {
				return nil, err
			}
			key, err := substituteKey(k, vars)
			if err != nil {
				return nil, err
			}
			if out == nil && (key != k || !ir.Same(next, val[k])) {
				out = val.Clone()
			}
			if out != nil {
				if key != k {
					delete(out, k)
				}
				out[key] = next
			}
		}
		if out == nil {
			return val, nil
		}
		return out, nil
	}
	return v, nil
}

// substituteKey interpolates placeholders in an object key. The result is
// always a string.
func substituteKey(k string, vars ir.Object) (string, error) {
	if !strings.Contains(k, "${") {
		return k, nil
	}
	v, err := substituteString(k, vars)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return strconv.FormatInt(int64(val), 10), nil
	}
	return "", fmt.Errorf("placeholder key %q resolves to %T, not a string", k, v)
}

func substituteString(s string, vars ir.Object) (ir.Value, error) {
	if !strings.Contains(s, "${") {
		return ir.String(s), nil
	}
	if strings.HasPrefix(s, "${") && strings.Index(s, "}") == len(s)-1 {
		return resolveRef(s[2:len(s)-1], vars)
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder in %q", s)
		}
		b.WriteString(rest[:start])

		ref := rest[start+2 : start+end]
		v, err := resolveRef(ref, vars)
		if err != nil {
			return nil, err
		}
		switch val := v.(type) {
		case ir.String:
			b.WriteString(string(val))
		case ir.Int:
			b.WriteString(strconv.FormatInt(int64(val), 10))
		case ir.Bool:
			b.WriteString(strconv.FormatBool(bool(val)))
		default:
			return nil, fmt.Errorf("placeholder ${%s} in %q is %T, not a scalar", ref, s, v)
		}
		rest = rest[start+end+1:]
	}
	return ir.String(b.String()), nil
}

func resolveRef(ref string, vars ir.Object) (ir.Value, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty placeholder")
	}
	var cur ir.Value = vars
	for _, seg := range strings.Split(ref, ".") {
		next, ok := ir.Lookup(cur, seg)
		if !ok {
			return nil, fmt.Errorf("unresolved placeholder ${%s}", ref)
		}
		cur = next
	}
	return cur, nil
}
