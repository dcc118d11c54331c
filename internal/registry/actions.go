package registry

import (
	"context"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/nspath"
)

// actions dispatches a container's actions by local name. When session is
// set, helpers stop dispatching once it is done.
type actions struct {
	c       *Container
	session context.Context
}

var _ model.Actions = (*actions)(nil)

func newActions(c *Container, session context.Context) *actions {
	return &actions{c: c, session: session}
}

func (a *actions) check(name string) error {
	if !a.c.mc.HasAction(name) {
		return newError(CodeUnknownAction, a.c.namespace, "model %s has no action %q", a.c.model, name)
	}
	if a.session != nil && a.session.Err() != nil {
		return newError(CodeSessionEnded, a.c.namespace, "cannot dispatch %q", name)
	}
	return nil
}

// Dispatch dispatches name with payload and returns the effect future.
func (a *actions) Dispatch(name string, payload any) *action.Future {
	if err := a.check(name); err != nil {
		return action.Rejected(err)
	}
	return a.c.sc.backend.Dispatch(a.action(name, payload))
}

// Send dispatches name fire-and-forget.
func (a *actions) Send(name string, payload any) {
	if err := a.check(name); err != nil {
		a.c.sc.logger.Debug("action dropped",
			"namespace", a.c.namespace,
			"action", name,
			"error", err)
		return
	}
	a.c.sc.backend.Send(a.action(name, payload))
}

func (a *actions) action(name string, payload any) action.Action {
	act := action.New(a.Type(name), payload)
	if a.session != nil {
		act = act.WithOrigin(a.session)
	}
	return act
}

// Type returns the full action type for name.
func (a *actions) Type(name string) string {
	return nspath.ActionType(a.c.namespace, name)
}

// Names lists the model's action names.
func (a *actions) Names() []string {
	return a.c.mc.ActionNames()
}
