package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roach88/modux/internal/engine"
	"github.com/roach88/modux/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Type, event.Payload)
		}
	}

	return buf.String()
}

// AssertionContext provides the engine and final state to assertions.
type AssertionContext struct {
	Engine *engine.Engine
	State  ir.Value
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertState:
			state := result.State
			if actx != nil && actx.State != nil {
				state = actx.State
			}
			err = assertState(state, assertion)
		case AssertRegistered, AssertGetter:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: %s requires an engine", i, assertion.Type)
			} else if assertion.Type == AssertRegistered {
				err = assertRegistered(actx.Engine, assertion)
			} else {
				err = assertGetter(actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertState looks up a gjson path in the state JSON.
func assertState(state ir.Value, assertion Assertion) error {
	data, err := ir.MarshalCanonical(state)
	if err != nil {
		return fmt.Errorf("state assertion: %w", err)
	}
	path := jsonPath(assertion.Namespace, assertion.Path)
	res := gjson.GetBytes(data, path)
	if path == "" {
		res = gjson.ParseBytes(data)
	}

	if assertion.Exists != nil {
		if res.Exists() != *assertion.Exists {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s exists = %t", path, *assertion.Exists),
				Actual:   fmt.Sprintf("exists = %t", res.Exists()),
			}
		}
	}
	if assertion.Equals == nil {
		return nil
	}

	if !res.Exists() {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s = %v", path, assertion.Equals),
			Actual:   "path not found",
		}
	}
	return compareJSON(AssertState, path, assertion.Equals, []byte(res.Raw))
}

// assertRegistered checks whether a container is bound at the namespace.
func assertRegistered(e *engine.Engine, assertion Assertion) error {
	want := true
	if assertion.Exists != nil {
		want = *assertion.Exists
	}
	_, got := e.Registry().Bound(assertion.Namespace)
	if got != want {
		return &AssertionError{
			Type:     AssertRegistered,
			Expected: fmt.Sprintf("%s registered = %t", assertion.Namespace, want),
			Actual:   fmt.Sprintf("registered = %t (bound: %v)", got, e.Registry().BoundNamespaces()),
		}
	}
	return nil
}

// assertGetter evaluates a getter of the container bound at the namespace.
func assertGetter(e *engine.Engine, assertion Assertion) error {
	c, ok := e.Registry().Bound(assertion.Namespace)
	if !ok {
		return &AssertionError{
			Type:     AssertGetter,
			Expected: fmt.Sprintf("%s registered", assertion.Namespace),
			Actual:   "not registered",
		}
	}
	g, err := c.Getters()
	if err != nil {
		return fmt.Errorf("getter assertion: %w", err)
	}
	v, err := g.Get(assertion.Getter)
	if err != nil {
		return &AssertionError{
			Type:     AssertGetter,
			Expected: fmt.Sprintf("getter %s of %s", assertion.Getter, assertion.Namespace),
			Actual:   err.Error(),
		}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("getter assertion: %w", err)
	}
	return compareJSON(AssertGetter, assertion.Namespace+" "+assertion.Getter, assertion.Equals, data)
}

// compareJSON compares an expected YAML value with actual JSON canonically.
func compareJSON(kind, what string, expected any, actual []byte) error {
	want, err := ir.MarshalCanonical(expected)
	if err != nil {
		return fmt.Errorf("%s assertion: expected value: %w", kind, err)
	}
	got, err := ir.ParseJSON(actual)
	if err != nil {
		return fmt.Errorf("%s assertion: actual value: %w", kind, err)
	}
	gotCanon, err := ir.MarshalCanonical(got)
	if err != nil {
		return fmt.Errorf("%s assertion: actual value: %w", kind, err)
	}
	if string(want) != string(gotCanon) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s = %s", what, want),
			Actual:   string(gotCanon),
		}
	}
	return nil
}

// assertTraceContains checks if the trace contains an action of the given
// type whose payload contains the expected payload (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	expected := normalize(assertion.Payload)
	for _, event := range trace {
		if event.Type == assertion.Action && matchSubset(event.PayloadValue(), expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with payload %v", assertion.Action, assertion.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)

	for i, event := range trace {
		for _, expectedAction := range assertion.Actions {
			if event.Type == expectedAction && positions[expectedAction] == 0 {
				positions[expectedAction] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// normalize round-trips a YAML value through JSON so numbers compare like
// decoded payloads.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// matchSubset reports whether actual contains expected. Objects match when
// every expected key matches; arrays must have the same length with
// element-wise matches; scalars must be equal. A nil expectation matches
// anything.
func matchSubset(actual, expected any) bool {
	if expected == nil {
		return true
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range exp {
			av, exists := act[k]
			if !exists || !matchSubset(av, ev) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(act[i], exp[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}
