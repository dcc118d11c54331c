package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/modux/internal/ir"
)

// ValueOf converts a concrete CUE value into an ir value. Floats are
// rejected; state and payloads only carry integers.
func ValueOf(v cue.Value, field string) (ir.Value, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(err, field)
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, cueError(err, field)
		}
		return ir.Bool(b), nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, cueError(err, field)
		}
		return ir.Int(n), nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, cueError(err, field)
		}
		return ir.String(s), nil

	case cue.FloatKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are not supported - use int instead",
			Pos:     v.Pos(),
		}

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, cueError(err, field)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := ValueOf(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, cueError(err, field)
		}
		obj := ir.Object{}
		for iter.Next() {
			label := iter.Label()
			elem, err := ValueOf(iter.Value(), field+"."+label)
			if err != nil {
				return nil, err
			}
			obj[label] = elem
		}
		return obj, nil

	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
