package compiler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/engine"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/testutil"
)

func reduce(t *testing.T, rs ReducerSpec, state ir.Value, payload any) (ir.Value, error) {
	t.Helper()
	r, err := buildReducer(rs)
	require.NoError(t, err)
	return draft.Produce(state, func(d *draft.Draft) {
		r(d, payload, &model.ReducerContext{})
	})
}

func TestReducerOps(t *testing.T) {
	two := int64(2)
	tests := []struct {
		name    string
		spec    ReducerSpec
		state   ir.Value
		payload any
		want    ir.Value
	}{
		{
			name:    "set payload",
			spec:    ReducerSpec{Op: OpSet, Path: "name"},
			state:   ir.Object{"name": ir.String("a")},
			payload: "b",
			want:    ir.Object{"name": ir.String("b")},
		},
		{
			name:  "set literal with payload placeholder",
			spec:  ReducerSpec{Op: OpSet, Path: "last", Value: ir.Object{"id": ir.String("${payload}")}},
			state: ir.Object{},
			payload: int64(7),
			want:  ir.Object{"last": ir.Object{"id": ir.Int(7)}},
		},
		{
			name:    "set root",
			spec:    ReducerSpec{Op: OpSet},
			state:   ir.Object{"x": ir.Int(1)},
			payload: map[string]any{"y": 2},
			want:    ir.Object{"y": ir.Int(2)},
		},
		{
			name:    "merge",
			spec:    ReducerSpec{Op: OpMerge, Path: "p"},
			state:   ir.Object{"p": ir.Object{"a": ir.Int(1)}},
			payload: map[string]any{"b": 2},
			want:    ir.Object{"p": ir.Object{"a": ir.Int(1), "b": ir.Int(2)}},
		},
		{
			name:    "add payload",
			spec:    ReducerSpec{Op: OpAdd, Path: "n"},
			state:   ir.Object{"n": ir.Int(1)},
			payload: 4,
			want:    ir.Object{"n": ir.Int(5)},
		},
		{
			name:  "add by",
			spec:  ReducerSpec{Op: OpAdd, Path: "n", By: &two},
			state: ir.Object{},
			want:  ir.Object{"n": ir.Int(2)},
		},
		{
			name:  "toggle",
			spec:  ReducerSpec{Op: OpToggle, Path: "on"},
			state: ir.Object{"on": ir.Bool(true)},
			want:  ir.Object{"on": ir.Bool(false)},
		},
		{
			name:    "append",
			spec:    ReducerSpec{Op: OpAppend, Path: "xs"},
			state:   ir.Object{"xs": ir.Array{ir.Int(1)}},
			payload: 2,
			want:    ir.Object{"xs": ir.Array{ir.Int(1), ir.Int(2)}},
		},
		{
			name:    "delete key from payload",
			spec:    ReducerSpec{Op: OpDelete, Path: "items"},
			state:   ir.Object{"items": ir.Object{"a": ir.Int(1), "b": ir.Int(2)}},
			payload: "a",
			want:    ir.Object{"items": ir.Object{"b": ir.Int(2)}},
		},
		{
			name:  "delete path",
			spec:  ReducerSpec{Op: OpDelete, Path: "items"},
			state: ir.Object{"items": ir.Object{}, "keep": ir.Int(1)},
			want:  ir.Object{"keep": ir.Int(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reduce(t, tt.spec, tt.state, tt.payload)
			require.NoError(t, err)
			assert.True(t, ir.Equal(tt.want, got), "got %v", got)
		})
	}
}

func TestReducerOpErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    ReducerSpec
		state   ir.Value
		payload any
	}{
		{"add to string", ReducerSpec{Op: OpAdd, Path: "n"}, ir.Object{"n": ir.String("x")}, 1},
		{"add string payload", ReducerSpec{Op: OpAdd, Path: "n"}, ir.Object{"n": ir.Int(1)}, "x"},
		{"toggle int", ReducerSpec{Op: OpToggle, Path: "n"}, ir.Object{"n": ir.Int(1)}, nil},
		{"merge scalar", ReducerSpec{Op: OpMerge, Path: "p"}, ir.Object{}, 3},
		{"delete int key", ReducerSpec{Op: OpDelete, Path: "p"}, ir.Object{"p": ir.Object{}}, 3},
		{"float payload", ReducerSpec{Op: OpSet, Path: "p"}, ir.Object{}, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reduce(t, tt.spec, tt.state, tt.payload)
			require.Error(t, err)
			assert.True(t, ir.Same(tt.state, got), "state must be left untouched")
		})
	}
}

func TestUnknownReducerOp(t *testing.T) {
	_, err := buildReducer(ReducerSpec{Op: "increment"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment")
}

func TestSelectorOps(t *testing.T) {
	state := ir.Object{
		"items": ir.Object{"b": ir.Int(1), "a": ir.Int(2)},
		"done":  ir.Bool(false),
	}
	tests := []struct {
		spec SelectorSpec
		want any
	}{
		{SelectorSpec{Path: "items.a"}, ir.Int(2)},
		{SelectorSpec{Path: "items", Op: SelectCount}, ir.Int(2)},
		{SelectorSpec{Path: "items", Op: SelectKeys}, ir.Array{ir.String("a"), ir.String("b")}},
		{SelectorSpec{Path: "done", Op: SelectNot}, ir.Bool(true)},
		{SelectorSpec{Path: "missing"}, ir.Null{}},
		{SelectorSpec{Path: "missing", Op: SelectCount}, ir.Int(0)},
	}

	for _, tt := range tests {
		t.Run(tt.spec.Path+"/"+tt.spec.Op, func(t *testing.T) {
			sel, err := buildSelector(tt.spec)
			require.NoError(t, err)
			got := sel(&model.SelectorContext{State: state}, &model.SelectorCache{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectorMemoizesOnUnchangedInput(t *testing.T) {
	sel, err := buildSelector(SelectorSpec{Path: "items", Op: SelectKeys})
	require.NoError(t, err)

	cache := &model.SelectorCache{}
	state := ir.Object{"items": ir.Object{"a": ir.Int(1)}}
	first := sel(&model.SelectorContext{State: state}, cache)
	second := sel(&model.SelectorContext{State: state}, cache)
	assert.True(t, ir.Same(first.(ir.Value), second.(ir.Value)))
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(
		engine.WithTokenGenerator(testutil.NewFixedTokens()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

func waitFuture(t *testing.T, f *action.Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestBuildRunsOnEngine(t *testing.T) {
	specs, err := CompileModels(compileString(t, todosManifest))
	require.NoError(t, err)
	bundle, err := Build(specs)
	require.NoError(t, err)

	assert.Equal(t, []string{"shop/cart", "todos"}, bundle.Namespaces())
	require.IsType(t, model.Array{}, bundle.Tree["shop"].(model.Tree)["cart"])

	e := newEngine(t)
	require.NoError(t, e.RegisterModels(bundle.Tree))

	// todos auto-registers on its first action.
	_, err = waitFuture(t, e.Dispatch(action.New("todos/toggle", nil)))
	require.NoError(t, err)
	todos, ok := ir.Lookup(e.GetState(), "todos")
	require.True(t, ok)
	assert.Equal(t, ir.Bool(true), todos.(ir.Object)["open"])

	res, err := waitFuture(t, e.Dispatch(action.New("todos/save", "x1")))
	require.NoError(t, err)
	assert.Equal(t, ir.String("saved"), res)

	c, err := e.GetContainer(bundle.Models["todos"], "")
	require.NoError(t, err)
	g, err := c.Getters()
	require.NoError(t, err)
	total, err := g.Get("total")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), total)

	_, err = waitFuture(t, e.Dispatch(action.New("todos/broken", nil)))
	require.EqualError(t, err, "nope")
}

func TestBuildSubstitutesArgsIntoState(t *testing.T) {
	specs, err := CompileModels(compileString(t, todosManifest))
	require.NoError(t, err)
	bundle, err := Build(specs)
	require.NoError(t, err)

	e := newEngine(t)
	require.NoError(t, e.RegisterModels(bundle.Tree))

	c, err := e.GetContainer(bundle.Models["shop/cart"], "c1")
	require.NoError(t, err)
	f, err := c.Register(ir.Object{"owner": ir.String("ann")})
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)

	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.Object{
		"owner":    ir.String("ann"),
		"currency": ir.String("EUR"),
		"lines":    ir.Array{},
	}, state)
}

func TestBuildRejectsNamespaceClash(t *testing.T) {
	specs := []*ModelSpec{
		{Namespace: "a", State: ir.Object{}},
		{Namespace: "a/b", State: ir.Object{}},
	}
	_, err := Build(specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a model, not a group")
}

func TestPayloadValueFallsBackToNull(t *testing.T) {
	assert.Equal(t, ir.String("x"), payloadValue("x"))
	assert.Equal(t, ir.Int(2), payloadValue(2))
	assert.Equal(t, ir.Null{}, payloadValue(1.5), "fractional floats cannot be substituted")
	assert.Equal(t, ir.Null{}, payloadValue(nil))
}
