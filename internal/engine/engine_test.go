package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/journal"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/registry"
	"github.com/roach88/modux/internal/testutil"
)

const waitTimeout = 5 * time.Second

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithTokenGenerator(testutil.NewFixedTokens("t-1", "t-2", "t-3")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

func wait(t *testing.T, f *action.Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := f.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "future never settled")
	return v, err
}

func register(t *testing.T, c *registry.Container, args ir.Object) {
	t.Helper()
	f, err := c.Register(args)
	require.NoError(t, err)
	_, err = wait(t, f)
	require.NoError(t, err)
}

func sub(t *testing.T, e *Engine, path string) ir.Object {
	t.Helper()
	v, ok := ir.Lookup(e.GetState(), path)
	require.True(t, ok, "no state at %q", path)
	obj, ok := v.(ir.Object)
	require.True(t, ok, "state at %q is %T", path, v)
	return obj
}

func setInt(field string) model.Reducer {
	return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
		d.Set(ir.MustFromGo(payload), field)
	}
}

func setString(field string) model.Reducer {
	return func(d *draft.Draft, payload any, _ *model.ReducerContext) {
		d.Set(ir.String(payload.(string)), field)
	}
}

func personModel() *model.Model {
	return model.New(model.Definition{
		Name:  "person",
		State: model.State(ir.Object{"name": ir.String(""), "age": ir.Int(0)}),
		Reducers: model.Reducers{
			"setAge":  setInt("age"),
			"setName": setString("name"),
		},
		Effects: model.Effects{
			"greet": model.Effect(func(ctx context.Context, ec *model.EffectContext, payload any) (any, error) {
				name, _ := ir.Lookup(ec.GetState(), "name")
				return "hello " + string(name.(ir.String)), nil
			}),
			"fail": model.Effect(func(ctx context.Context, ec *model.EffectContext, payload any) (any, error) {
				return nil, errors.New("effect failed")
			}),
			"explode": model.Effect(func(ctx context.Context, ec *model.EffectContext, payload any) (any, error) {
				panic("boom")
			}),
		},
	})
}

func itemModel(name string) *model.Model {
	return model.New(model.Definition{
		Name: name,
		Args: model.Args(nil, "name"),
		State: func(sc model.StateContext) (ir.Value, error) {
			return ir.Object{"name": sc.Args["name"], "kind": ir.String(name)}, nil
		},
		Reducers: model.Reducers{
			"rename": setString("name"),
		},
	})
}

func TestReducerUpdatesOnlyItsPath(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	other := model.New(model.Definition{Name: "other", State: model.State(ir.Object{"x": ir.Int(1)})})
	require.NoError(t, e.RegisterModels(model.Tree{"person": person, "other": other}))

	pc, err := e.GetContainer(person, "")
	require.NoError(t, err)
	oc, err := e.GetContainer(other, "")
	require.NoError(t, err)
	register(t, pc, nil)
	register(t, oc, nil)

	before := e.GetState().(ir.Object)
	beforeCopy := before.Clone()

	v, err := wait(t, e.Dispatch(action.New("person/setAge", 5)))
	require.NoError(t, err)
	assert.Nil(t, v)

	after := e.GetState().(ir.Object)
	assert.Equal(t, ir.Int(5), sub(t, e, "person")["age"])
	assert.False(t, ir.Same(before, after))
	assert.True(t, ir.Same(before["other"], after["other"]), "unaffected branch must keep its identity")
	assert.False(t, ir.Same(before["person"], after["person"]))

	// The previous root was not mutated.
	assert.True(t, ir.Equal(beforeCopy, before))
	assert.Equal(t, ir.Int(0), before["person"].(ir.Object)["age"])
}

func TestRequiredArgsBeforeRegister(t *testing.T) {
	e := newTestEngine(t)
	item := itemModel("item")
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}}))

	c, err := e.GetContainer(item, "x")
	require.NoError(t, err)

	_, err = c.State()
	assert.ErrorIs(t, err, registry.ErrRequiredArgMissing)

	register(t, c, ir.Object{"name": ir.String("a")})

	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"name": ir.String("a"), "kind": ir.String("item")}, state)

	models := e.GetState().(ir.Object)[ModelsKey]
	assert.Equal(t, ir.Object{"items": ir.Object{"x": ir.Int(0)}}, models)
}

func TestStagedDefaultIsVisible(t *testing.T) {
	e := newTestEngine(t)
	item := model.New(model.Definition{
		Name: "item",
		Args: model.Args(ir.Object{"name": ir.String("default")}, "name"),
		State: func(sc model.StateContext) (ir.Value, error) {
			return ir.Object{"name": sc.Args["name"]}, nil
		},
	})
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}}))

	c, err := e.GetContainer(item, "x")
	require.NoError(t, err)

	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"name": ir.String("default")}, state)
	assert.False(t, c.IsRegistered())
	_, present := ir.Lookup(e.GetState(), "items.x")
	assert.False(t, present, "reading would-be state must not write the store")
}

func TestSequentialDispatchesAreSerialized(t *testing.T) {
	e := newTestEngine(t)

	var seen []ir.Value
	counter := model.New(model.Definition{
		Name:  "counter",
		State: model.State(ir.Object{"n": ir.Int(0)}),
		Reducers: model.Reducers{
			"inc": model.Reducer(func(d *draft.Draft, _ any, _ *model.ReducerContext) {
				cur := d.Get("n")
				seen = append(seen, cur)
				d.Set(cur.(ir.Int)+1, "n")
			}),
		},
	})
	require.NoError(t, e.RegisterModels(model.Tree{"counter": counter}))
	c, err := e.GetContainer(counter, "")
	require.NoError(t, err)
	register(t, c, nil)

	f1 := e.Dispatch(action.New("counter/inc", nil))
	f2 := e.Dispatch(action.New("counter/inc", nil))
	_, _ = wait(t, f1)
	_, _ = wait(t, f2)

	assert.Equal(t, []ir.Value{ir.Int(0), ir.Int(1)}, seen)
	assert.Equal(t, ir.Int(2), sub(t, e, "counter")["n"])
}

func TestReloadRebuildsDynamicBinding(t *testing.T) {
	e := newTestEngine(t)
	item := itemModel("item")
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}}))

	snapshot := ir.Object{
		"items.x":  ir.Object{"name": ir.String("restored"), "kind": ir.String("item")},
		ModelsKey: ir.Object{"items": ir.Object{"x": ir.Int(0)}},
	}
	_, err := wait(t, e.Reload(snapshot))
	require.NoError(t, err)

	c, err := e.GetContainer(item, "x")
	require.NoError(t, err)
	assert.True(t, c.IsRegistered())
	assert.Equal(t, c.ModelContext().Index, 0)

	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.String("restored"), state.(ir.Object)["name"])

	_, err = wait(t, e.Dispatch(action.New("items/x/rename", "again")))
	require.NoError(t, err)
	assert.Equal(t, ir.String("again"), sub(t, e, "items.x")["name"])
}

func TestReloadHydratesMissingSubState(t *testing.T) {
	e := newTestEngine(t)
	item := model.New(model.Definition{
		Name:  "item",
		State: model.State(ir.Object{"fresh": ir.Bool(true)}),
	})
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}, "person": person}))

	// items.y has routing info but no state; person has no state at all.
	snapshot := ir.Object{ModelsKey: ir.Object{"items": ir.Object{"y": ir.Int(0)}}}
	_, err := wait(t, e.Reload(snapshot))
	require.NoError(t, err)

	assert.Equal(t, ir.Object{"fresh": ir.Bool(true)}, sub(t, e, "items.y"))

	pc, err := e.GetContainer(person, "")
	require.NoError(t, err)
	assert.False(t, pc.IsRegistered(), "static model without state stays unregistered")
	assert.Equal(t, []string{"items/y"}, e.Registry().BoundNamespaces())
}

func TestReloadWithoutSnapshotKeepsState(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)
	register(t, c, nil)
	before := e.GetState()

	_, err = wait(t, e.Reload(nil))
	require.NoError(t, err)

	assert.True(t, ir.Same(before, e.GetState()))
	assert.True(t, c.IsRegistered(), "static model with state is rebound")
}

func TestNamespaceUniqueness(t *testing.T) {
	e := newTestEngine(t)
	a, b := itemModel("a"), itemModel("b")
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{a, b}}))

	ca, err := e.GetContainer(a, "k")
	require.NoError(t, err)
	cb, err := e.GetContainer(b, "k")
	require.NoError(t, err)

	register(t, ca, ir.Object{"name": ir.String("first")})

	_, err = cb.Register(ir.Object{"name": ir.String("second")})
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)

	// A raw register batch for the other variant is rejected too.
	_, err = wait(t, e.Dispatch(action.Register(action.RegisterEntry{
		Namespace:  "items/k",
		ModelIndex: 1,
		Args:       ir.Object{"name": ir.String("second")},
	})))
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)
	assert.Equal(t, ir.String("a"), sub(t, e, "items.k")["kind"])

	// Re-registering the same model after unregister succeeds.
	_, err = wait(t, ca.Unregister())
	require.NoError(t, err)
	register(t, ca, ir.Object{"name": ir.String("again")})
	assert.Equal(t, ir.String("again"), sub(t, e, "items.k")["name"])
}

func TestRegisterSameContainerIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)
	register(t, c, nil)
	_, err = wait(t, e.Dispatch(action.New("person/setAge", 9)))
	require.NoError(t, err)

	_, err = wait(t, e.Dispatch(action.Register(c.RegisterEntry())))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(9), sub(t, e, "person")["age"], "state must not be reset")
}

func TestContainerIdentityIsStable(t *testing.T) {
	e := newTestEngine(t)
	item := itemModel("item")
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}}))

	first, err := e.GetContainer(item, "x")
	require.NoError(t, err)

	register(t, first, ir.Object{"name": ir.String("a")})
	_, err = wait(t, first.Unregister())
	require.NoError(t, err)
	register(t, first, nil)

	again, err := e.GetContainer(item, "x")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, again.IsRegistered())
}

func TestDispatchLinksEffectOutcome(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)
	register(t, c, nil)
	_, err = wait(t, e.Dispatch(action.New("person/setName", "ada")))
	require.NoError(t, err)

	v, err := wait(t, e.Dispatch(action.New("person/greet", nil)))
	require.NoError(t, err)
	assert.Equal(t, "hello ada", v)

	_, err = wait(t, e.Dispatch(action.New("person/fail", nil)))
	assert.EqualError(t, err, "effect failed")

	_, err = wait(t, e.Dispatch(action.New("person/explode", nil)))
	assert.True(t, IsEffectPanic(err))

	v, err = wait(t, e.Dispatch(action.New("person/setAge", 3)))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = wait(t, e.Dispatch(action.New("nowhere/thing", nil)))
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Zero(t, e.Registry().PendingDeferreds())
}

func TestActionHelpersDispatchThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)
	register(t, c, nil)

	_, err = wait(t, c.Actions().Dispatch("setName", "grace"))
	require.NoError(t, err)
	v, err := wait(t, c.Actions().Dispatch("greet", nil))
	require.NoError(t, err)
	assert.Equal(t, "hello grace", v)

	_, err = wait(t, c.Actions().Dispatch("missing", nil))
	assert.ErrorIs(t, err, registry.ErrUnknownAction)
}

func TestSendRoutesFailuresToUnhandledHook(t *testing.T) {
	var failures testutil.ErrorLog
	e := newTestEngine(t, WithUnhandledEffectErrorHook(failures.EffectHook))
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)
	register(t, c, nil)

	e.Send(action.New("person/fail", nil))
	// Failures observed through Dispatch never reach the hook.
	_, _ = wait(t, e.Dispatch(action.New("person/fail", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, e.Idle(ctx))

	assert.Equal(t, []string{"person/fail: effect failed"}, failures.Entries())
}

func TestTokensComeFromGenerator(t *testing.T) {
	j := openJournal(t)
	tokens := testutil.NewFixedTokens("first", "second")
	e := newTestEngine(t, WithTokenGenerator(tokens), WithJournal(j, "run"))

	_, _ = wait(t, e.Dispatch(action.New("a/b", nil)))
	_, _ = wait(t, e.Dispatch(action.Action{Type: "a/c", Token: "mine"}))

	entries, err := j.Entries(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Token)
	assert.Equal(t, "mine", entries[1].Token)
	assert.Equal(t, 1, tokens.Issued(), "explicit tokens are kept")
}

func TestReducerFailureRejectsAndKeepsState(t *testing.T) {
	e := newTestEngine(t)
	broken := model.New(model.Definition{
		Name:  "broken",
		State: model.State(ir.Object{"s": ir.String("text")}),
		Reducers: model.Reducers{
			"bad": model.Reducer(func(d *draft.Draft, _ any, _ *model.ReducerContext) {
				d.Set(ir.Int(1), "s", "inner")
			}),
		},
	})
	require.NoError(t, e.RegisterModels(model.Tree{"broken": broken}))
	c, err := e.GetContainer(broken, "")
	require.NoError(t, err)
	register(t, c, nil)
	before := e.GetState()

	_, err = wait(t, e.Dispatch(action.New("broken/bad", nil)))
	assert.True(t, IsReducerError(err))
	assert.True(t, ir.Same(before, e.GetState()))
}

func TestDispatchAfterClose(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	_, err := wait(t, e.Dispatch(action.New("a/b", nil)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeSeesEveryTurn(t *testing.T) {
	e := newTestEngine(t)
	person := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"person": person}))
	c, err := e.GetContainer(person, "")
	require.NoError(t, err)

	var calls int
	unsubscribe := e.Subscribe(func() { calls++ })
	register(t, c, nil)
	_, _ = wait(t, e.Dispatch(action.New("person/setAge", 1)))
	unsubscribe()
	_, _ = wait(t, e.Dispatch(action.New("person/setAge", 2)))

	assert.Equal(t, 2, calls)
}

func TestDependenciesReachModelCallbacks(t *testing.T) {
	deps := map[string]any{"greeting": "hi"}
	e := newTestEngine(t, WithDependencies(deps))

	m := model.New(model.Definition{
		Name: "dep",
		State: func(sc model.StateContext) (ir.Value, error) {
			return ir.Object{"greeting": ir.String(sc.Dependencies["greeting"].(string))}, nil
		},
		Effects: model.Effects{
			"read": model.Effect(func(ctx context.Context, ec *model.EffectContext, _ any) (any, error) {
				return ec.Dependencies["greeting"], nil
			}),
		},
	})
	require.NoError(t, e.RegisterModels(model.Tree{"dep": m}))
	c, err := e.GetContainer(m, "")
	require.NoError(t, err)
	register(t, c, nil)

	assert.Equal(t, ir.String("hi"), sub(t, e, "dep")["greeting"])
	v, err := wait(t, e.Dispatch(action.New("dep/read", nil)))
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestCustomActionNameResolver(t *testing.T) {
	underscore := func(path []string) string {
		out := ""
		for i, p := range path {
			if i > 0 {
				out += "_"
			}
			out += p
		}
		return out
	}
	e := newTestEngine(t, WithActionNameResolver(underscore))
	m := model.New(model.Definition{
		Name:  "nested",
		State: model.State(ir.Object{}),
		Reducers: model.Reducers{
			"profile": model.Reducers{"setName": setString("name")},
		},
	})
	require.NoError(t, e.RegisterModels(model.Tree{"nested": m}))
	c, err := e.GetContainer(m, "")
	require.NoError(t, err)
	register(t, c, nil)

	_, err = wait(t, e.Dispatch(action.New("nested/profile_setName", "x")))
	require.NoError(t, err)
	assert.Equal(t, ir.String("x"), sub(t, e, "nested")["name"])
}

func TestRegisterModelsErrors(t *testing.T) {
	e := newTestEngine(t)
	m := personModel()
	require.NoError(t, e.RegisterModels(model.Tree{"a": m}))

	err := e.RegisterModels(model.Tree{"b": m})
	assert.ErrorIs(t, err, registry.ErrDuplicateModel)

	_, err = e.GetContainer(m, "key")
	assert.ErrorIs(t, err, registry.ErrUnexpectedKey)
	_, err = e.GetContainer(personModel(), "")
	assert.ErrorIs(t, err, registry.ErrModelNotRegistered)
}

func TestRegisterUnknownNamespaceFails(t *testing.T) {
	e := newTestEngine(t)
	_, err := wait(t, e.Dispatch(action.Register(action.RegisterEntry{Namespace: "ghost"})))

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeUnknownNamespace, ee.Code)
}

func TestRegisterBatchRollsBackOnError(t *testing.T) {
	e := newTestEngine(t)
	item := itemModel("item")
	require.NoError(t, e.RegisterModels(model.Tree{"items": model.Array{item}}))

	_, err := wait(t, e.Dispatch(action.Register(
		action.RegisterEntry{Namespace: "items/ok", Args: ir.Object{"name": ir.String("ok")}},
		action.RegisterEntry{Namespace: "items/missing"},
	)))
	assert.ErrorIs(t, err, registry.ErrRequiredArgMissing)
	assert.Empty(t, e.Registry().BoundNamespaces())
	_, present := ir.Lookup(e.GetState(), "items.ok")
	assert.False(t, present)
}
