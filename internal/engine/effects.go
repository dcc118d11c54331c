package engine

import (
	"context"
	"fmt"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/registry"
)

// runEffect starts effect for a on the scheduler and settles d with its
// outcome. The effect context is cancelled when the container's session ends
// or the scheduler generation is switched.
func (e *Engine) runEffect(c *registry.Container, effect model.Effect, a action.Action, d *action.Deferred) {
	ec := c.EffectContext()
	session := c.Session()
	gen := e.scheduler.Context()

	e.scheduler.Go("effect:"+a.Type, func() {
		ctx, cancel := context.WithCancel(session)
		defer cancel()
		stop := context.AfterFunc(gen, cancel)
		defer stop()

		v, err := callEffect(ctx, effect, ec, a)
		if err != nil {
			d.Reject(err)
			if d.Detached() {
				e.reportUnhandled(a, err)
			}
			return
		}
		d.Resolve(v)
	})
}

func callEffect(ctx context.Context, effect model.Effect, ec *model.EffectContext, a action.Action) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &Error{
				Code:       ErrCodeEffectPanic,
				Message:    fmt.Sprintf("effect panicked: %v", r),
				ActionType: a.Type,
				Namespace:  ec.Namespace,
			}
		}
	}()
	return effect(ctx, ec, a.Payload)
}
