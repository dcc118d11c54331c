package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/registry"
	"github.com/roach88/modux/internal/store"
	"github.com/roach88/modux/internal/workflow"
)

// ModelsKey is the reserved root-state key recording which model variant
// governs each dynamic key: {"@@models": {basePath: {key: index}}}.
const ModelsKey = "@@models"

// Engine is a namespaced model store.
//
// Thread-safety model:
//   - Dispatch, Send, GetState, GetContainer: safe from any goroutine
//   - RegisterModels: call before dispatching actions for those models
//   - Close: once; later dispatches are rejected with ErrClosed
type Engine struct {
	store     *store.Store
	registry  *registry.StoreContext
	scheduler *workflow.Scheduler
	clock     *Clock
	tokens    action.TokenGenerator

	journal Journal
	run     string

	deps      map[string]any
	resolver  registry.ActionNameResolver
	unhandled UnhandledEffectErrorHook
	epicHook  EpicErrorHook
	rootEpics []namedEpic
	logger    *slog.Logger

	closed atomic.Bool
}

var _ registry.Backend = (*Engine)(nil)

// New creates an engine with an empty root state.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		tokens: action.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.clock = NewClock()
	if e.journal != nil {
		last, err := e.journal.LastSeq(context.Background(), e.run)
		if err != nil {
			return nil, fmt.Errorf("resume journal run %q: %w", e.run, err)
		}
		e.clock = NewClockAt(last)
	}

	regOpts := []registry.Option{
		registry.WithDependencies(e.deps),
		registry.WithLogger(e.logger),
	}
	if e.resolver != nil {
		regOpts = append(regOpts, registry.WithActionNameResolver(e.resolver))
	}
	e.registry = registry.New(e, regOpts...)

	schedOpts := []workflow.Option{workflow.WithLogger(e.logger)}
	if e.epicHook != nil {
		schedOpts = append(schedOpts, workflow.WithErrorHook(workflow.ErrorHook(e.epicHook)))
	}
	e.scheduler = workflow.New(schedOpts...)

	e.store = store.New(e.reduce, ir.Object{}, e.routing)

	for _, re := range e.rootEpics {
		re := re
		e.scheduler.AddRoot(re.name, func(ctx context.Context, s *workflow.Stream) error {
			return re.epic(ctx, e, s)
		})
	}
	return e, nil
}

// Registry returns the store context.
func (e *Engine) Registry() *registry.StoreContext {
	return e.registry
}

// RegisterModels registers every model of tree under the namespace given by
// its path. Containers of static models are created right away; they are
// registered by Container.Register, by auto-registration, or by a reload.
func (e *Engine) RegisterModels(tree model.Tree) error {
	for _, b := range model.Flatten(tree) {
		base, err := e.registry.RegisterModelDefinition(b.Namespace, b.Models, b.Dynamic)
		if err != nil {
			return err
		}
		if base.Dynamic {
			continue
		}
		if _, err := e.registry.GetContainer(base.Models[0], ""); err != nil {
			return err
		}
	}
	return nil
}

// GetContainer returns the container of (m, key). key must be empty for a
// static model and non-empty for a dynamic one.
func (e *Engine) GetContainer(m *model.Model, key string) (*registry.Container, error) {
	return e.registry.GetContainer(m, key)
}

// Dispatch runs a through the store and returns a future settled by the
// effect it triggers, or with nil when there is none. The future receives
// effect failures.
func (e *Engine) Dispatch(a action.Action) *action.Future {
	return e.dispatch(a, false)
}

// Send dispatches fire-and-forget. Effect failures go to the
// unhandled-effect-error hook.
func (e *Engine) Send(a action.Action) {
	e.dispatch(a, true)
}

func (e *Engine) dispatch(a action.Action, detached bool) *action.Future {
	if e.closed.Load() {
		return action.Rejected(&Error{Code: ErrCodeClosed, Message: "engine is closed", ActionType: a.Type})
	}
	if a.Token == "" {
		a.Token = e.tokens.Generate()
	}

	d, f := action.NewDeferred()
	if detached {
		d.Detach()
	}
	e.registry.Link(a.Token, d)

	if err := e.store.Dispatch(a); err != nil {
		if d, ok := e.registry.Take(a.Token); ok {
			d.Reject(err)
			switch {
			case !detached:
			case errors.Is(err, registry.ErrSessionEnded):
				e.logger.Debug("action dropped", "type", a.Type, "error", err)
			default:
				e.reportUnhandled(a, err)
			}
		}
	}
	return f
}

// State returns the current root state.
func (e *Engine) State() ir.Value {
	return e.store.GetState()
}

// GetState is State.
func (e *Engine) GetState() ir.Value {
	return e.store.GetState()
}

// Subscribe registers a listener called after every dispatch turn.
func (e *Engine) Subscribe(listener func()) (unsubscribe func()) {
	return e.store.Subscribe(listener)
}

// Reload replaces the root state with snapshot and rebuilds every binding
// from it. A nil snapshot keeps the current state.
func (e *Engine) Reload(snapshot ir.Object) *action.Future {
	return e.Dispatch(action.Reload(snapshot))
}

// Idle blocks until no effect is running or ctx is done.
func (e *Engine) Idle(ctx context.Context) error {
	return e.scheduler.Idle(ctx)
}

// Close stops every epic and waits for running effects. Dispatches made
// afterwards are rejected with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.scheduler.Close(ctx)
}

// Seq returns the sequence number of the last committed action.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

func (e *Engine) reportUnhandled(a action.Action, err error) {
	if e.unhandled != nil {
		e.unhandled(a, err)
		return
	}
	e.logger.Error("unhandled effect error",
		"type", a.Type,
		"token", a.Token,
		"error", err)
}
