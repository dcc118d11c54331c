package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/nspath"
)

// Container is the facade of one (model, key) pair. Its identity is stable
// for the lifetime of the registry; only its registration status changes.
type Container struct {
	sc        *StoreContext
	mc        *ModelContext
	model     *model.Model
	key       string
	namespace string
	path      string

	mu sync.Mutex

	// Args staged by Register, consumed by the would-be state and the
	// register entry.
	staged ir.Object

	// Sub-state memo keyed on the identity of the root state it was read
	// from.
	memoRoot  ir.Value
	memoState ir.Value
	memoOK    bool

	// State the container would have if registered now.
	wouldBe ir.Value

	getters *getters
	actions *actions

	session context.Context
	cancel  context.CancelFunc
}

var _ model.Container = (*Container)(nil)

func newContainer(sc *StoreContext, mc *ModelContext, key string) *Container {
	ns := nspath.Namespace(mc.Base.Namespace, key)
	return &Container{
		sc:        sc,
		mc:        mc,
		model:     mc.Model,
		key:       key,
		namespace: ns,
		path:      nspath.ToPath(ns),
	}
}

// Namespace returns the full namespace (base plus key).
func (c *Container) Namespace() string { return c.namespace }

// Key returns the dynamic key, or "" for a static model.
func (c *Container) Key() string { return c.key }

// Path returns the storage path of the container's sub-state.
func (c *Container) Path() string { return c.path }

// Model returns the bound model.
func (c *Container) Model() *model.Model { return c.model }

// ModelContext returns the compiled tables of the bound model.
func (c *Container) ModelContext() *ModelContext { return c.mc }

// IsRegistered reports whether this container's model currently holds the
// namespace.
func (c *Container) IsRegistered() bool {
	cur, ok := c.sc.Bound(c.namespace)
	return ok && cur.model == c.model
}

// CanRegister reports whether the namespace is free.
func (c *Container) CanRegister() bool {
	_, ok := c.sc.Bound(c.namespace)
	return !ok
}

// State returns the container's sub-state.
//
// A registered container reads the live root state; the lookup is memoized
// until the root changes. An unregistered container whose namespace is free
// returns the state it would start with, built from staged or default args.
// Any other container fails with ErrNamespaceConflict.
func (c *Container) State() (ir.Value, error) {
	switch {
	case c.IsRegistered():
		return c.liveState(), nil
	case c.CanRegister():
		return c.wouldBeState()
	default:
		return nil, c.conflict()
	}
}

func (c *Container) liveState() ir.Value {
	root := c.sc.backend.State()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memoOK && ir.Same(c.memoRoot, root) {
		return c.memoState
	}
	v, ok := ir.Lookup(root, c.path)
	if !ok {
		v = ir.Null{}
	}
	c.memoRoot, c.memoState, c.memoOK = root, v, true
	return v
}

func (c *Container) wouldBeState() (ir.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wouldBe != nil {
		return c.wouldBe, nil
	}
	v, _, err := c.materializeLocked()
	if err != nil {
		return nil, err
	}
	c.wouldBe = v
	return v, nil
}

// Materialize resolves args and builds the initial state the container
// starts with when registered now.
func (c *Container) Materialize() (ir.Value, ir.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materializeLocked()
}

func (c *Container) materializeLocked() (ir.Value, ir.Object, error) {
	deps := c.sc.deps
	spec := c.model.ArgSpec(model.ArgsContext{
		Namespace:    c.namespace,
		Key:          c.key,
		Dependencies: deps,
	})
	args, err := model.ResolveArgs(spec, c.staged)
	if err != nil {
		var argErr *model.ArgError
		if errors.As(err, &argErr) {
			return nil, nil, &Error{
				Code:      CodeRequiredArgMissing,
				Message:   "cannot materialize state",
				Namespace: c.namespace,
				Err:       err,
			}
		}
		return nil, nil, err
	}

	state, err := c.model.InitialState(model.StateContext{
		Namespace:    c.namespace,
		Key:          c.key,
		Args:         args,
		Dependencies: deps,
	})
	if err != nil {
		return nil, nil, err
	}
	return state, args, nil
}

// StageArgs records args for the next registration and drops the would-be
// state cache.
func (c *Container) StageArgs(args ir.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = args
	c.wouldBe = nil
}

// Getters returns the lazily built getters of the container.
func (c *Container) Getters() (model.Getters, error) {
	if !c.IsRegistered() && !c.CanRegister() {
		return nil, c.conflict()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getters == nil {
		c.getters = newGetters(c)
	}
	return c.getters, nil
}

// Actions returns the lazily built action helpers of the container.
func (c *Container) Actions() model.Actions {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.actions == nil {
		c.actions = newActions(c, nil)
	}
	return c.actions
}

// Register stages args and dispatches a register batch for this container.
// Nil args keep whatever was staged before. The returned future settles once
// the register action has been processed.
func (c *Container) Register(args ir.Object) (*action.Future, error) {
	if !c.CanRegister() {
		return nil, newError(CodeAlreadyRegistered, c.namespace, "namespace is already registered")
	}
	if args != nil {
		c.StageArgs(args)
	}
	return c.sc.backend.Dispatch(action.Register(c.RegisterEntry())), nil
}

// RegisterEntry describes this container in a register batch.
func (c *Container) RegisterEntry() action.RegisterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return action.RegisterEntry{
		Namespace:  c.namespace,
		ModelIndex: c.mc.Index,
		Args:       c.staged,
	}
}

// Unregister dispatches an unregister batch. It is a no-op on a container
// that is not registered.
func (c *Container) Unregister() *action.Future {
	if !c.IsRegistered() {
		return action.Resolved(nil)
	}
	return c.sc.backend.Dispatch(action.Unregister(action.UnregisterEntry{Namespace: c.namespace}))
}

// Session returns the context of the current registration. It is done while
// the container is not registered.
func (c *Container) Session() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return endedSession
	}
	return c.session
}

var endedSession = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

func (c *Container) openSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.session, c.cancel = context.WithCancel(context.Background())
	c.wouldBe = nil
}

func (c *Container) closeSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.session, c.cancel = nil, nil
}

// reset clears every cache. Staged args survive so a later register can
// reuse them.
func (c *Container) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoRoot, c.memoState, c.memoOK = nil, nil, false
	c.wouldBe = nil
	c.actions = nil
	if c.getters != nil {
		c.getters.resetCaches()
	}
}

func (c *Container) conflict() error {
	holder := "another model"
	if cur, ok := c.sc.Bound(c.namespace); ok {
		holder = cur.model.String()
	}
	return newError(CodeNamespaceConflict, c.namespace, "namespace is held by %s", holder)
}

// EffectContext builds the context handed to this container's effects.
// Its action helpers are gated by the current session.
func (c *Container) EffectContext() *model.EffectContext {
	session := c.Session()
	gated := newActions(c, session)

	ec := &model.EffectContext{
		Namespace:    c.namespace,
		Key:          c.key,
		Dependencies: c.sc.deps,
		GetState: func() ir.Value {
			if session.Err() != nil {
				return nil
			}
			v, err := c.State()
			if err != nil {
				return nil
			}
			return v
		},
		GetRootState: c.sc.backend.State,
		Actions:      gated,
		GetContainer: c.sc.Lookup,
		Dispatch: func(a action.Action) *action.Future {
			if session.Err() != nil {
				return action.Rejected(newError(CodeSessionEnded, c.namespace, "cannot dispatch %s", a.Type))
			}
			return c.sc.backend.Dispatch(a.WithOrigin(session))
		},
	}
	if g, err := c.Getters(); err == nil {
		ec.Getters = g
	}
	return ec
}
