package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
)

type fakeBackend struct {
	mu         sync.Mutex
	state      ir.Value
	dispatched []action.Action
	sent       []action.Action
}

func (f *fakeBackend) Dispatch(a action.Action) *action.Future {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, a)
	return action.Resolved(nil)
}

func (f *fakeBackend) Send(a action.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
}

func (f *fakeBackend) State() ir.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBackend) setState(v ir.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = v
}

func setName(d *draft.Draft, payload any, rc *model.ReducerContext) {
	d.Set(ir.String(payload.(string)), "name")
}

func userModel() *model.Model {
	return model.New(model.Definition{
		Name:  "user",
		State: model.State(ir.Object{"name": ir.String(""), "age": ir.Int(0)}),
		Reducers: model.Reducers{
			"setName": model.Reducer(setName),
		},
		Effects: model.Effects{
			"save": model.Effect(func(ctx context.Context, ec *model.EffectContext, payload any) (any, error) {
				return "saved", nil
			}),
		},
		Selectors: model.Selectors{
			"name": model.Selector(func(sc *model.SelectorContext, _ *model.SelectorCache) any {
				v, _ := ir.Lookup(sc.State, "name")
				return v
			}),
		},
	})
}

func itemModel() *model.Model {
	return model.New(model.Definition{
		Name: "item",
		Args: model.Args(nil, "name"),
		State: func(sc model.StateContext) (ir.Value, error) {
			return ir.Object{"name": sc.Args["name"]}, nil
		},
		Reducers: model.Reducers{"rename": model.Reducer(setName)},
	})
}

func newTestContext(t *testing.T) (*StoreContext, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{state: ir.Object{}}
	return New(b), b
}

func TestRegisterModelDefinitionDuplicates(t *testing.T) {
	sc, _ := newTestContext(t)
	user := userModel()

	_, err := sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)

	_, err = sc.RegisterModelDefinition("other", model.Array{user}, false)
	assert.ErrorIs(t, err, ErrDuplicateModel)

	_, err = sc.RegisterModelDefinition("user", model.Array{userModel()}, false)
	assert.ErrorIs(t, err, ErrDuplicateNamespace)

	item := itemModel()
	_, err = sc.RegisterModelDefinition("items", model.Array{item, item}, true)
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestRegisterModelDefinitionDuplicateActionName(t *testing.T) {
	sc := New(&fakeBackend{}, WithActionNameResolver(func(path []string) string {
		return path[len(path)-1]
	}))

	m := model.New(model.Definition{
		Reducers: model.Reducers{
			"set": model.Reducer(setName),
			"nested": model.Reducers{
				"set": model.Reducer(setName),
			},
		},
	})

	_, err := sc.RegisterModelDefinition("m", model.Array{m}, false)
	require.ErrorIs(t, err, ErrDuplicateActionName)

	// A failed registration leaves nothing behind.
	_, ok := sc.ModelContext(m)
	assert.False(t, ok)
	_, ok = sc.Base("m")
	assert.False(t, ok)
}

func TestModelContextTables(t *testing.T) {
	sc, _ := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)

	mc, ok := sc.ModelContext(user)
	require.True(t, ok)
	assert.Equal(t, []string{"save", "setName"}, mc.ActionNames())
	assert.Equal(t, []string{"name"}, mc.SelectorPaths())
	assert.True(t, mc.HasAction("save"))
	assert.False(t, mc.HasAction("missing"))
	assert.Equal(t, 0, mc.Index)
}

func TestFindModelsInfo(t *testing.T) {
	sc, _ := newTestContext(t)
	_, err := sc.RegisterModelDefinition("app/user", model.Array{userModel()}, false)
	require.NoError(t, err)
	_, err = sc.RegisterModelDefinition("app/items", model.Array{itemModel()}, true)
	require.NoError(t, err)

	info, ok := sc.FindModelsInfo("app/user")
	require.True(t, ok)
	assert.Equal(t, "app/user", info.Base.Namespace)
	assert.Empty(t, info.Key)

	info, ok = sc.FindModelsInfo("app/items/x")
	require.True(t, ok)
	assert.Equal(t, "app/items", info.Base.Namespace)
	assert.Equal(t, "x", info.Key)

	_, ok = sc.FindModelsInfo("app/user/x")
	assert.False(t, ok, "static models take no key")

	_, ok = sc.FindModelsInfo("nowhere")
	assert.False(t, ok)
}

func TestGetContainerErrorsAndIdentity(t *testing.T) {
	sc, _ := newTestContext(t)
	user, item := userModel(), itemModel()

	_, err := sc.GetContainer(user, "")
	assert.ErrorIs(t, err, ErrModelNotRegistered)

	_, err = sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)
	_, err = sc.RegisterModelDefinition("items", model.Array{item}, true)
	require.NoError(t, err)

	_, err = sc.GetContainer(user, "k")
	assert.ErrorIs(t, err, ErrUnexpectedKey)
	_, err = sc.GetContainer(item, "")
	assert.ErrorIs(t, err, ErrMissingKey)

	a, err := sc.GetContainer(item, "x")
	require.NoError(t, err)
	b, err := sc.GetContainer(item, "x")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "items/x", a.Namespace())
	assert.Equal(t, "items.x", a.Path())
}

func TestWouldBeStateRequiresArgs(t *testing.T) {
	sc, _ := newTestContext(t)
	item := itemModel()
	_, err := sc.RegisterModelDefinition("items", model.Array{item}, true)
	require.NoError(t, err)

	c, err := sc.GetContainer(item, "x")
	require.NoError(t, err)

	_, err = c.State()
	require.ErrorIs(t, err, ErrRequiredArgMissing)
	var argErr *model.ArgError
	assert.ErrorAs(t, err, &argErr)

	c.StageArgs(ir.Object{"name": ir.String("a")})
	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"name": ir.String("a")}, state)

	again, err := c.State()
	require.NoError(t, err)
	assert.True(t, ir.Same(state, again), "would-be state is cached")
}

func TestRegisterDispatchesBatch(t *testing.T) {
	sc, backend := newTestContext(t)
	item := itemModel()
	_, err := sc.RegisterModelDefinition("items", model.Array{item}, true)
	require.NoError(t, err)

	c, err := sc.GetContainer(item, "x")
	require.NoError(t, err)

	f, err := c.Register(ir.Object{"name": ir.String("a")})
	require.NoError(t, err)
	assert.True(t, f.Settled())

	require.Len(t, backend.dispatched, 1)
	reg := backend.dispatched[0]
	assert.Equal(t, action.TypeRegister, reg.Type)
	assert.Equal(t, []action.RegisterEntry{{
		Namespace:  "items/x",
		ModelIndex: 0,
		Args:       ir.Object{"name": ir.String("a")},
	}}, reg.RegisterEntries())
}

func TestRegisterNilArgsKeepsStagedArgs(t *testing.T) {
	sc, backend := newTestContext(t)
	item := itemModel()
	_, err := sc.RegisterModelDefinition("items", model.Array{item}, true)
	require.NoError(t, err)

	c, err := sc.GetContainer(item, "x")
	require.NoError(t, err)
	c.StageArgs(ir.Object{"name": ir.String("kept")})

	_, err = c.Register(nil)
	require.NoError(t, err)
	require.Len(t, backend.dispatched, 1)
	assert.Equal(t, ir.Object{"name": ir.String("kept")}, backend.dispatched[0].RegisterEntries()[0].Args)
}

func TestBindingLifecycle(t *testing.T) {
	sc, backend := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)

	c, err := sc.GetContainer(user, "")
	require.NoError(t, err)
	assert.False(t, c.IsRegistered())
	assert.True(t, c.CanRegister())
	assert.Error(t, c.Session().Err())

	require.NoError(t, sc.Bind(c))
	require.NoError(t, sc.Bind(c), "binding the same container twice is a no-op")
	assert.True(t, c.IsRegistered())
	assert.False(t, c.CanRegister())
	assert.NoError(t, c.Session().Err())
	assert.Equal(t, []string{"user"}, sc.BoundNamespaces())

	_, err = c.Register(nil)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	backend.setState(ir.Object{"user": ir.Object{"name": ir.String("bob")}})
	state, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"name": ir.String("bob")}, state)

	session := c.Session()
	got, ok := sc.Unbind("user")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.ErrorIs(t, session.Err(), context.Canceled)
	assert.False(t, c.IsRegistered())

	_, ok = sc.Unbind("user")
	assert.False(t, ok)

	f := c.Unregister()
	assert.True(t, f.Settled(), "unregister of an unbound container is a no-op")
}

func TestNamespaceConflict(t *testing.T) {
	sc, _ := newTestContext(t)
	a, b := itemModel(), itemModel()
	_, err := sc.RegisterModelDefinition("items", model.Array{a, b}, true)
	require.NoError(t, err)

	ca, err := sc.GetContainer(a, "x")
	require.NoError(t, err)
	cb, err := sc.GetContainer(b, "x")
	require.NoError(t, err)
	assert.NotSame(t, ca, cb)
	assert.Equal(t, 1, cb.ModelContext().Index)

	require.NoError(t, sc.Bind(ca))

	err = sc.Bind(cb)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = cb.State()
	assert.ErrorIs(t, err, ErrNamespaceConflict)
	_, err = cb.Getters()
	assert.ErrorIs(t, err, ErrNamespaceConflict)

	_, err = cb.Register(ir.Object{"name": ir.String("b")})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestResetUnbindsEverything(t *testing.T) {
	sc, _ := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)

	c, err := sc.GetContainer(user, "")
	require.NoError(t, err)
	require.NoError(t, sc.Bind(c))

	session := c.Session()
	bound := sc.Reset()
	assert.Equal(t, []*Container{c}, bound)
	assert.Empty(t, sc.BoundNamespaces())
	assert.Error(t, session.Err())

	again, err := sc.GetContainer(user, "")
	require.NoError(t, err)
	assert.Same(t, c, again, "container identity survives reload")
}

func TestGettersPerContainer(t *testing.T) {
	sc, backend := newTestContext(t)
	calls := 0
	m := model.New(model.Definition{
		State: func(s model.StateContext) (ir.Value, error) {
			return ir.Object{"name": s.Args["name"]}, nil
		},
		Selectors: model.Selectors{
			"upper": model.CreateSelector(func(values []any, _ any) any {
				calls++
				return values[0]
			}, model.PathInput("name")),
		},
	})
	_, err := sc.RegisterModelDefinition("items", model.Array{m}, true)
	require.NoError(t, err)

	x, _ := sc.GetContainer(m, "x")
	y, _ := sc.GetContainer(m, "y")
	require.NoError(t, sc.Bind(x))
	require.NoError(t, sc.Bind(y))

	backend.setState(ir.Object{
		"items.x": ir.Object{"name": ir.String("a")},
		"items.y": ir.Object{"name": ir.String("b")},
	})

	gx, err := x.Getters()
	require.NoError(t, err)
	gy, err := y.Getters()
	require.NoError(t, err)

	vx, err := gx.Get("upper")
	require.NoError(t, err)
	vy, err := gy.Get("upper")
	require.NoError(t, err)
	assert.Equal(t, ir.String("a"), vx)
	assert.Equal(t, ir.String("b"), vy)
	assert.Equal(t, 2, calls)

	_, err = gx.Get("upper")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "unchanged input reuses the memo")

	_, err = gx.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownGetter)

	again, _ := x.Getters()
	assert.Same(t, gx, again)
}

func TestActionsHelpers(t *testing.T) {
	sc, backend := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("app/user", model.Array{user}, false)
	require.NoError(t, err)
	c, _ := sc.GetContainer(user, "")

	acts := c.Actions()
	assert.Same(t, acts, c.Actions())
	assert.Equal(t, "app/user/setName", acts.Type("setName"))
	assert.Equal(t, []string{"save", "setName"}, acts.Names())

	acts.Dispatch("setName", "bob")
	acts.Send("save", nil)
	require.Len(t, backend.dispatched, 1)
	assert.Equal(t, "app/user/setName", backend.dispatched[0].Type)
	require.Len(t, backend.sent, 1)

	_, err = acts.Dispatch("nope", nil).Result()
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestEffectContextIsGatedBySession(t *testing.T) {
	sc, backend := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("user", model.Array{user}, false)
	require.NoError(t, err)
	c, _ := sc.GetContainer(user, "")
	require.NoError(t, sc.Bind(c))

	ec := c.EffectContext()
	assert.Equal(t, "user", ec.Namespace)
	require.NotNil(t, ec.Getters)

	ec.Actions.Dispatch("setName", "before")
	require.Len(t, backend.dispatched, 1)

	sc.Unbind("user")

	_, err = ec.Actions.Dispatch("setName", "after").Result()
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = ec.Dispatch(action.New("user/setName", "raw")).Result()
	assert.ErrorIs(t, err, ErrSessionEnded)
	ec.Actions.Send("setName", "dropped")
	assert.Len(t, backend.dispatched, 1)
	assert.Empty(t, backend.sent)

	other, err := ec.GetContainer(user, "")
	require.NoError(t, err)
	assert.Equal(t, "user", other.Namespace())
}

func TestDeferredSideTable(t *testing.T) {
	sc, _ := newTestContext(t)
	d, _ := action.NewDeferred()

	sc.Link("tok-1", d)
	sc.Link("", d)
	assert.Equal(t, 1, sc.PendingDeferreds())

	got, ok := sc.Take("tok-1")
	require.True(t, ok)
	assert.Same(t, d, got)

	_, ok = sc.Take("tok-1")
	assert.False(t, ok)
	assert.Equal(t, 0, sc.PendingDeferreds())
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Code:      CodeRequiredArgMissing,
		Message:   "cannot materialize state",
		Namespace: "items/x",
		Err:       errors.New("required argument(s) missing: name"),
	}
	assert.Equal(t,
		"REQUIRED_ARG_MISSING: cannot materialize state (namespace=items/x): required argument(s) missing: name",
		err.Error())
	assert.Equal(t, CodeRequiredArgMissing, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.False(t, errors.Is(err, ErrMissingKey))
}

func TestGettersKeepIdentityButForgetMemoAcrossRegistrations(t *testing.T) {
	sc, backend := newTestContext(t)
	calls := 0
	m := model.New(model.Definition{
		Name:  "profile",
		State: model.State(ir.Object{"name": ir.String("")}),
		Selectors: model.Selectors{
			"name": model.CreateSelector(func(values []any, _ any) any {
				calls++
				return values[0]
			}, model.PathInput("name")),
		},
	})
	_, err := sc.RegisterModelDefinition("profile", model.Array{m}, false)
	require.NoError(t, err)
	c, err := sc.GetContainer(m, "")
	require.NoError(t, err)
	require.NoError(t, sc.Bind(c))
	backend.setState(ir.Object{"profile": ir.Object{"name": ir.String("a")}})

	g, err := c.Getters()
	require.NoError(t, err)
	_, err = g.Get("name")
	require.NoError(t, err)
	_, err = g.Get("name")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	sc.Unbind("profile")
	require.NoError(t, sc.Bind(c))

	again, err := c.Getters()
	require.NoError(t, err)
	assert.Same(t, g, again)
	v, err := again.Get("name")
	require.NoError(t, err)
	assert.Equal(t, ir.String("a"), v)
	assert.Equal(t, 2, calls, "a new registration recomputes its getters")
}

func TestEffectContextBindsActionsToSession(t *testing.T) {
	sc, backend := newTestContext(t)
	user := userModel()
	_, err := sc.RegisterModelDefinition("app/user", model.Array{user}, false)
	require.NoError(t, err)
	c, _ := sc.GetContainer(user, "")
	require.NoError(t, sc.Bind(c))
	backend.setState(ir.Object{"app.user": ir.Object{"name": ir.String("a"), "age": ir.Int(0)}})

	ec := c.EffectContext()
	assert.NotNil(t, ec.GetState())
	ec.Actions.Dispatch("setName", "bob")
	ec.Dispatch(action.New("app/other/ping", nil))
	c.Actions().Dispatch("setName", "carol")

	require.Len(t, backend.dispatched, 3)
	for _, a := range backend.dispatched[:2] {
		require.NotNil(t, a.Origin(), a.Type)
		assert.NoError(t, a.Origin().Err())
	}
	assert.Nil(t, backend.dispatched[2].Origin(), "application helpers are not tied to a session")

	sc.Unbind("app/user")
	for _, a := range backend.dispatched[:2] {
		assert.ErrorIs(t, a.Origin().Err(), context.Canceled)
	}
	assert.Nil(t, ec.GetState(), "an ended session reads no state")
}
