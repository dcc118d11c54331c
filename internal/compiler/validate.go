package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/modux/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrCompile           = "E100" // manifest could not be compiled
	ErrInvalidNamespace  = "E101" // namespace segment is not a valid identifier
	ErrUnknownReducerOp  = "E102" // reducer op is not one of set/merge/add/toggle/append/delete
	ErrInvalidReducer    = "E103" // reducer fields do not fit its op
	ErrInvalidPath       = "E104" // dotted path has an empty segment
	ErrInvalidEffect     = "E105" // effect has both result and fail, or an empty dispatch
	ErrUnknownLocalName  = "E106" // effect dispatches a local name the model does not define
	ErrUnknownSelectorOp = "E107" // selector op is not one of value/count/keys/not
	ErrUndeclaredArg     = "E108" // state references an arg with no default and not required
	ErrFloatForbidden    = "E109" // float literal in state, args, or payload
)

var segmentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

var argRefRE = regexp.MustCompile(`\$\{args\.([^}.]+)[^}]*\}`)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// FromCompileError converts a compile error into a validation error.
func FromCompileError(err error) ValidationError {
	ce, ok := err.(*CompileError)
	if !ok {
		return ValidationError{Field: "models", Message: err.Error(), Code: ErrCompile}
	}
	ve := ValidationError{Field: ce.Field, Message: ce.Message, Code: ErrCompile}
	if strings.Contains(ce.Message, "float") {
		ve.Code = ErrFloatForbidden
	}
	if ce.Pos.IsValid() {
		ve.Line = ce.Pos.Line()
	}
	return ve
}

// Validate checks a compiled spec and returns every problem found.
func Validate(spec *ModelSpec) []ValidationError {
	var errs []ValidationError
	field := "models." + namespaceField(spec.Namespace)

	for _, seg := range strings.Split(spec.Namespace, "/") {
		if !segmentRE.MatchString(seg) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("namespace segment %q must match %s", seg, segmentRE),
				Code:    ErrInvalidNamespace,
				Line:    lineOf(spec.Pos),
			})
		}
	}

	declared := make(map[string]bool)
	for k := range spec.ArgDefaults {
		declared[k] = true
	}
	for _, k := range spec.ArgsRequired {
		declared[k] = true
	}
	for _, name := range argRefs(spec.State) {
		if !declared[name] {
			errs = append(errs, ValidationError{
				Field:   field + ".state",
				Message: fmt.Sprintf("state references ${args.%s} but the arg has no default and is not required", name),
				Code:    ErrUndeclaredArg,
				Line:    lineOf(spec.Pos),
			})
		}
	}

	for _, name := range sortedNames(spec.Reducers) {
		errs = append(errs, validateReducer(field+".reducers."+name, spec.Reducers[name])...)
	}
	for _, name := range sortedNames(spec.Effects) {
		errs = append(errs, validateEffect(field+".effects."+name, spec.Effects[name], spec)...)
	}
	for _, name := range sortedNames(spec.Selectors) {
		ss := spec.Selectors[name]
		sf := field + ".selectors." + name
		switch ss.Op {
		case SelectValue, SelectCount, SelectKeys, SelectNot:
		default:
			errs = append(errs, ValidationError{
				Field:   sf + ".op",
				Message: fmt.Sprintf("unknown selector op %q", ss.Op),
				Code:    ErrUnknownSelectorOp,
				Line:    lineOf(ss.Pos),
			})
		}
		if err := checkPath(sf+".path", ss.Path, lineOf(ss.Pos)); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func validateReducer(field string, rs ReducerSpec) []ValidationError {
	var errs []ValidationError
	line := lineOf(rs.Pos)

	switch rs.Op {
	case OpSet, OpMerge, OpAppend, OpDelete:
		if rs.By != nil {
			errs = append(errs, ValidationError{Field: field + ".by", Message: fmt.Sprintf("by is only valid for %s", OpAdd), Code: ErrInvalidReducer, Line: line})
		}
	case OpAdd:
		if rs.Value != nil {
			errs = append(errs, ValidationError{Field: field + ".value", Message: "add takes by, not value", Code: ErrInvalidReducer, Line: line})
		}
	case OpToggle:
		if rs.Value != nil || rs.By != nil {
			errs = append(errs, ValidationError{Field: field, Message: "toggle takes no value or by", Code: ErrInvalidReducer, Line: line})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".op",
			Message: fmt.Sprintf("unknown reducer op %q", rs.Op),
			Code:    ErrUnknownReducerOp,
			Line:    line,
		})
	}

	if rs.Op == OpMerge && rs.Value != nil {
		if _, ok := rs.Value.(ir.Object); !ok {
			errs = append(errs, ValidationError{Field: field + ".value", Message: "merge value must be a struct", Code: ErrInvalidReducer, Line: line})
		}
	}
	if (rs.Op == OpAdd || rs.Op == OpToggle) && rs.Path == "" {
		errs = append(errs, ValidationError{Field: field + ".path", Message: fmt.Sprintf("%s needs a path", rs.Op), Code: ErrInvalidReducer, Line: line})
	}
	if err := checkPath(field+".path", rs.Path, line); err != nil {
		errs = append(errs, *err)
	}
	return errs
}

func validateEffect(field string, es EffectSpec, spec *ModelSpec) []ValidationError {
	var errs []ValidationError
	line := lineOf(es.Pos)

	if es.Result != nil && es.Fail != "" {
		errs = append(errs, ValidationError{Field: field, Message: "result and fail are mutually exclusive", Code: ErrInvalidEffect, Line: line})
	}
	for i, ds := range es.Dispatch {
		df := fmt.Sprintf("%s.dispatch[%d].action", field, i)
		switch {
		case ds.Action == "":
			errs = append(errs, ValidationError{Field: df, Message: "action must be non-empty", Code: ErrInvalidEffect, Line: line})
		case !strings.Contains(ds.Action, "/"):
			_, isReducer := spec.Reducers[ds.Action]
			_, isEffect := spec.Effects[ds.Action]
			if !isReducer && !isEffect {
				errs = append(errs, ValidationError{
					Field:   df,
					Message: fmt.Sprintf("%q is not a reducer or effect of %s", ds.Action, spec.Namespace),
					Code:    ErrUnknownLocalName,
					Line:    line,
				})
			}
		}
	}
	return errs
}

func checkPath(field, path string, line int) *ValidationError {
	if path == "" {
		return nil
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return &ValidationError{Field: field, Message: fmt.Sprintf("path %q has an empty segment", path), Code: ErrInvalidPath, Line: line}
		}
	}
	return nil
}

// argRefs lists the arg names referenced by ${args.NAME} placeholders in v.
func argRefs(v ir.Value) []string {
	seen := make(map[string]bool)
	var walk func(ir.Value)
	walk = func(v ir.Value) {
		switch val := v.(type) {
		case ir.String:
			for _, m := range argRefRE.FindAllStringSubmatch(string(val), -1) {
				seen[m[1]] = true
			}
		case ir.Array:
			for _, elem := range val {
				walk(elem)
			}
		case ir.Object:
			for _, elem := range val {
				walk(elem)
			}
		}
	}
	walk(v)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lineOf(pos interface {
	IsValid() bool
	Line() int
}) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}
