package model

import (
	"context"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/workflow"
)

// Getters exposes the derived values of one container. Paths are the
// dot-joined selector paths ("stats.total").
type Getters interface {
	Get(path string) (any, error)
	Paths() []string
}

// Actions dispatches the actions of one container by local action name.
type Actions interface {
	// Dispatch sends the action and returns the future of its effect.
	Dispatch(name string, payload any) *action.Future
	// Send dispatches fire-and-forget; effect failures go to the
	// unhandled-effect-error hook.
	Send(name string, payload any)
	// Type returns the full action type for a local name.
	Type(name string) string
	Names() []string
}

// Container is the per-namespace facade handed to workflows.
type Container interface {
	Namespace() string
	Key() string
	Model() *Model
	IsRegistered() bool
	CanRegister() bool
	State() (ir.Value, error)
	Getters() (Getters, error)
	Actions() Actions
	Register(args ir.Object) (*action.Future, error)
	Unregister() *action.Future
}

// ContainerLookup resolves another model's container.
type ContainerLookup func(m *Model, key string) (Container, error)

// Reducer applies an action to the draft of its container's sub-state.
type Reducer func(d *draft.Draft, payload any, rc *ReducerContext)

// ReducerContext is passed to reducers.
type ReducerContext struct {
	Namespace    string
	Key          string
	ActionName   string
	Dependencies map[string]any
}

// Effect is a one-shot asynchronous workflow triggered by one action. Its
// return value settles the dispatch future.
type Effect func(ctx context.Context, ec *EffectContext, payload any) (any, error)

// EffectContext is passed to effects.
type EffectContext struct {
	Namespace    string
	Key          string
	Dependencies map[string]any

	// GetState returns the container's current sub-state.
	GetState func() ir.Value
	// GetRootState returns the whole store state.
	GetRootState func() ir.Value
	Getters      Getters
	Actions      Actions
	GetContainer ContainerLookup
	// Dispatch sends an arbitrary action through the store.
	Dispatch func(a action.Action) *action.Future
}

// Epic is a long-running processor bound to one container. It runs until ctx
// is done, which happens when the container is unregistered or the store is
// reloaded.
type Epic func(ctx context.Context, ec *EpicContext) error

// EpicContext is passed to epics. Stream delivers every dispatch made after
// the container was registered.
type EpicContext struct {
	EffectContext
	Stream *workflow.Stream
}

// SelectorContext is passed to selectors.
type SelectorContext struct {
	Namespace    string
	Key          string
	Dependencies map[string]any
	State        ir.Value
	Getters      Getters
	Actions      Actions
}
