package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/compiler"
	"github.com/roach88/modux/internal/engine"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/journal"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/nspath"
	"github.com/roach88/modux/internal/testutil"
)

// StepTimeout bounds the wait for one step's future and for effects to
// finish after it.
const StepTimeout = 5 * time.Second

// Harness runs the steps of one scenario against one engine.
type Harness struct {
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh engine journaling into a private in-memory
// database, with dispatch tokens from the scenario. Runs are reproducible
// step for step.
//
// Execution flow:
// 1. Load and build the model manifests
// 2. Start an engine and register the model tree
// 3. Execute steps, checking expect clauses
// 4. Read the trace back from the journal
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunWith(ctx, scenario, Options{})
}

// Options configures RunWith.
type Options struct {
	// Journal receives the run. Default: a private in-memory journal.
	Journal *journal.Journal

	// Run names the run in the journal. Default: the scenario name.
	Run string

	// Logger receives engine logs. Default: discarded.
	Logger *slog.Logger
}

// RunWith executes a scenario with explicit options. A caller-provided
// journal is left open.
func RunWith(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	bundle, err := loadModels(scenario.Models)
	if err != nil {
		return nil, err
	}

	j := opts.Journal
	if j == nil {
		j, err = journal.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
		}
		defer j.Close()
	}
	run := opts.Run
	if run == "" {
		run = scenario.Name
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	eng, err := engine.New(
		engine.WithJournal(j, run),
		engine.WithTokenGenerator(testutil.NewFixedTokens(scenario.Tokens...)),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), StepTimeout)
		defer cancel()
		_ = eng.Close(closeCtx)
	}()

	if err := eng.RegisterModels(bundle.Tree); err != nil {
		return nil, fmt.Errorf("failed to register models: %w", err)
	}

	h := &Harness{engine: eng, logger: logger}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Kind(), err))
		}
		h.logger.Debug("step completed",
			"step", i,
			"kind", step.Kind(),
			"seq", eng.Seq(),
		)
	}

	idleCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := eng.Idle(idleCtx); err != nil {
		return nil, fmt.Errorf("effects did not settle: %w", err)
	}

	entries, err := j.Entries(ctx, journal.Filter{Run: run})
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, en := range entries {
		result.Trace = append(result.Trace, traceEvent(en))
	}

	result.State = eng.GetState()
	if hash, err := ir.StateHash(result.State); err == nil {
		result.StateHash = hash
	}

	actx := &AssertionContext{Engine: eng, State: result.State}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// loadModels builds every manifest directory and merges the trees.
func loadModels(dirs []string) (*compiler.Bundle, error) {
	merged := &compiler.Bundle{
		Tree:   model.Tree{},
		Models: make(map[string]*model.Model),
		Specs:  make(map[string]*compiler.ModelSpec),
	}
	for _, dir := range dirs {
		b, problems, err := compiler.LoadBundle(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load models from %s: %w", dir, err)
		}
		if len(problems) > 0 {
			msgs := make([]string, len(problems))
			for i, p := range problems {
				msgs[i] = p.Error()
			}
			return nil, fmt.Errorf("invalid models in %s: %s", dir, strings.Join(msgs, "; "))
		}
		for k, node := range b.Tree {
			if _, dup := merged.Tree[k]; dup {
				return nil, fmt.Errorf("models in %s: namespace %q is declared twice", dir, k)
			}
			merged.Tree[k] = node
		}
		for ns, m := range b.Models {
			merged.Models[ns] = m
			merged.Specs[ns] = b.Specs[ns]
		}
	}
	return merged, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var err error
	switch {
	case step.Register != nil:
		err = h.register(stepCtx, step.Register)
	case step.Unregister != nil:
		err = h.unregister(stepCtx, step.Unregister)
	case step.Dispatch != nil:
		err = h.dispatch(stepCtx, step.Dispatch)
	case step.Reload != nil:
		err = h.reload(stepCtx, step.Reload)
	}
	if err != nil {
		return err
	}
	return h.engine.Idle(stepCtx)
}

func (h *Harness) register(ctx context.Context, s *RegisterStep) error {
	info, ok := h.engine.Registry().FindModelsInfo(s.Namespace)
	if !ok {
		return fmt.Errorf("no model is registered for namespace %q", s.Namespace)
	}
	if s.ModelIndex >= len(info.Base.Models) {
		return fmt.Errorf("model_index %d out of range for %s (%d variants)", s.ModelIndex, info.Base.Namespace, len(info.Base.Models))
	}
	c, err := h.engine.GetContainer(info.Base.Models[s.ModelIndex], info.Key)
	if err != nil {
		return err
	}

	var args ir.Object
	if s.Args != nil {
		v, err := ir.FromGo(s.Args)
		if err != nil {
			return fmt.Errorf("args: %w", err)
		}
		args = v.(ir.Object)
	}

	f, err := c.Register(args)
	if err != nil {
		return checkExpect(s.Expect, nil, err)
	}
	v, err := f.Wait(ctx)
	return checkExpect(s.Expect, v, err)
}

func (h *Harness) unregister(ctx context.Context, s *UnregisterStep) error {
	c, ok := h.engine.Registry().Bound(s.Namespace)
	if !ok {
		return fmt.Errorf("namespace %q is not registered", s.Namespace)
	}
	_, err := c.Unregister().Wait(ctx)
	return err
}

func (h *Harness) dispatch(ctx context.Context, s *DispatchStep) error {
	var payload any
	if s.Payload != nil {
		v, err := ir.FromGo(s.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		payload = v
	}
	v, err := h.engine.Dispatch(action.New(s.Action, payload)).Wait(ctx)
	return checkExpect(s.Expect, v, err)
}

func (h *Harness) reload(ctx context.Context, s *ReloadStep) error {
	var snapshot ir.Object
	switch {
	case s.Snapshot != nil:
		v, err := ir.FromGo(s.Snapshot)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		snapshot = v.(ir.Object)
	case len(s.Patch) > 0:
		patched, err := patchState(h.engine.GetState(), s.Patch)
		if err != nil {
			return err
		}
		snapshot = patched
	}
	_, err := h.engine.Reload(snapshot).Wait(ctx)
	return err
}

// patchState applies sjson edits to the canonical JSON of state.
func patchState(state ir.Value, ops []PatchOp) (ir.Object, error) {
	data, err := ir.MarshalCanonical(state)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	for i, op := range ops {
		path := jsonPath(op.Namespace, op.Path)
		if op.Delete {
			data, err = sjson.DeleteBytes(data, path)
		} else {
			data, err = sjson.SetBytes(data, path, op.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("patch[%d] %s: %w", i, path, err)
		}
	}

	v, err := ir.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("patch: state is %T, not an object", v)
	}
	return obj, nil
}

// jsonPath builds a gjson/sjson path. A namespace becomes one escaped key
// because sub-states are stored under flat dotted keys.
func jsonPath(namespace, path string) string {
	if namespace == "" {
		return path
	}
	key := escapeKey(nspath.ToPath(namespace))
	if path == "" {
		return key
	}
	return key + "." + path
}

func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', ':', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// checkExpect compares a settled future with the step's expect clause. A
// step without expect must resolve.
func checkExpect(e *ExpectClause, v any, err error) error {
	switch {
	case e == nil || (e.Result == nil && e.Error == ""):
		return err
	case e.Error != "":
		if err == nil {
			return fmt.Errorf("expected error containing %q, got result %v", e.Error, v)
		}
		if !strings.Contains(err.Error(), e.Error) {
			return fmt.Errorf("expected error containing %q, got %q", e.Error, err.Error())
		}
		return nil
	}

	if err != nil {
		return fmt.Errorf("expected result %v, got error %q", e.Result, err.Error())
	}
	want, werr := canonical(e.Result)
	got, gerr := canonical(v)
	if werr != nil || gerr != nil {
		return fmt.Errorf("cannot compare result %v with %v", v, e.Result)
	}
	if want != got {
		return fmt.Errorf("expected result %s, got %s", want, got)
	}
	return nil
}

func canonical(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
