package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives a fresh engine through a list of steps and checks the
// resulting state and trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models lists CUE manifest directories to load. Paths are relative to
	// the scenario file location.
	Models []string `yaml:"models"`

	// Tokens are the dispatch tokens handed out in order. Once they run out
	// tokens continue as "<last>+N". Without tokens the sequence is
	// "fixed+1", "fixed+2", ...
	Tokens []string `yaml:"tokens,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one field must be set.
type Step struct {
	Register   *RegisterStep   `yaml:"register,omitempty"`
	Unregister *UnregisterStep `yaml:"unregister,omitempty"`
	Dispatch   *DispatchStep   `yaml:"dispatch,omitempty"`
	Reload     *ReloadStep     `yaml:"reload,omitempty"`
}

// Kind names the populated field of the step.
func (s Step) Kind() string {
	switch {
	case s.Register != nil:
		return "register"
	case s.Unregister != nil:
		return "unregister"
	case s.Dispatch != nil:
		return "dispatch"
	case s.Reload != nil:
		return "reload"
	}
	return ""
}

func (s Step) count() int {
	n := 0
	for _, set := range []bool{s.Register != nil, s.Unregister != nil, s.Dispatch != nil, s.Reload != nil} {
		if set {
			n++
		}
	}
	return n
}

// RegisterStep registers the container for Namespace. For a dynamic base
// the namespace ends with the key ("lists/l1") and ModelIndex picks the
// variant.
type RegisterStep struct {
	Namespace  string         `yaml:"namespace"`
	ModelIndex int            `yaml:"model_index,omitempty"`
	Args       map[string]any `yaml:"args,omitempty"`
	Expect     *ExpectClause  `yaml:"expect,omitempty"`
}

// UnregisterStep unregisters the container bound at Namespace.
type UnregisterStep struct {
	Namespace string `yaml:"namespace"`
}

// DispatchStep dispatches one action and waits for its future.
type DispatchStep struct {
	Action  string        `yaml:"action"`
	Payload any           `yaml:"payload,omitempty"`
	Expect  *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks the settled future of a step. Result is compared
// exactly; Error is a substring of the rejection message.
type ExpectClause struct {
	Result any    `yaml:"result,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// ReloadStep reloads the store with Snapshot, or with the current state
// edited by Patch. Neither set reloads the current state unchanged.
type ReloadStep struct {
	Snapshot map[string]any `yaml:"snapshot,omitempty"`
	Patch    []PatchOp      `yaml:"patch,omitempty"`
}

// PatchOp edits the state JSON at an sjson path. When Namespace is set the
// path is relative to that namespace's sub-state.
type PatchOp struct {
	Namespace string `yaml:"namespace,omitempty"`
	Path      string `yaml:"path"`
	Value     any    `yaml:"value,omitempty"`
	Delete    bool   `yaml:"delete,omitempty"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type is one of state, registered, getter, trace_contains, trace_order,
	// trace_count.
	Type string `yaml:"type"`

	// Namespace scopes state and getter assertions and names the container
	// for registered.
	Namespace string `yaml:"namespace,omitempty"`

	// Path is a gjson path into the (namespace) state.
	Path string `yaml:"path,omitempty"`

	// Getter is the getter path (used by getter).
	Getter string `yaml:"getter,omitempty"`

	// Equals is the expected value (state, getter).
	Equals any `yaml:"equals,omitempty"`

	// Exists checks presence instead of value (state). Registered defaults
	// to true when omitted.
	Exists *bool `yaml:"exists,omitempty"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is a subset the action payload must contain (trace_contains).
	Payload any `yaml:"payload,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertState         = "state"
	AssertRegistered    = "registered"
	AssertGetter        = "getter"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Model paths are
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving model paths against
// basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, dir := range scenario.Models {
		if !filepath.IsAbs(dir) && basePath != "" {
			scenario.Models[i] = filepath.Join(basePath, dir)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Models) == 0 {
		return fmt.Errorf("models list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, dir := range s.Models {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("models directory not found: %s", dir)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	if n := s.count(); n != 1 {
		return fmt.Errorf("steps[%d]: exactly one of register, unregister, dispatch, reload is required (got %d)", index, n)
	}

	switch {
	case s.Register != nil:
		if s.Register.Namespace == "" {
			return fmt.Errorf("steps[%d].register: namespace is required", index)
		}
		if s.Register.ModelIndex < 0 {
			return fmt.Errorf("steps[%d].register: model_index must be non-negative", index)
		}
		return validateExpect(index, s.Register.Expect)
	case s.Unregister != nil:
		if s.Unregister.Namespace == "" {
			return fmt.Errorf("steps[%d].unregister: namespace is required", index)
		}
	case s.Dispatch != nil:
		if s.Dispatch.Action == "" {
			return fmt.Errorf("steps[%d].dispatch: action is required", index)
		}
		return validateExpect(index, s.Dispatch.Expect)
	case s.Reload != nil:
		if s.Reload.Snapshot != nil && len(s.Reload.Patch) > 0 {
			return fmt.Errorf("steps[%d].reload: snapshot and patch are mutually exclusive", index)
		}
		for j, p := range s.Reload.Patch {
			if p.Path == "" {
				return fmt.Errorf("steps[%d].reload.patch[%d]: path is required", index, j)
			}
		}
	}
	return nil
}

func validateExpect(index int, e *ExpectClause) error {
	if e != nil && e.Result != nil && e.Error != "" {
		return fmt.Errorf("steps[%d].expect: result and error are mutually exclusive", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.Equals == nil && a.Exists == nil {
			return fmt.Errorf("assertions[%d]: equals or exists is required for state", index)
		}
	case AssertRegistered:
		if a.Namespace == "" {
			return fmt.Errorf("assertions[%d]: namespace is required for registered", index)
		}
	case AssertGetter:
		if a.Namespace == "" || a.Getter == "" {
			return fmt.Errorf("assertions[%d]: namespace and getter are required for getter", index)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
