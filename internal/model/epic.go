package model

import (
	"context"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/workflow"
)

// EmissionHandler handles one matching emission inside an epic.
type EmissionHandler func(ctx context.Context, ec *EpicContext, e workflow.Emission) error

// OnAction returns an epic that calls handle for every emission whose action
// satisfies match. A handler error stops the epic.
func OnAction(match func(a action.Action) bool, handle EmissionHandler) Epic {
	return func(ctx context.Context, ec *EpicContext) error {
		for {
			e, err := ec.Stream.Next(ctx)
			if err != nil {
				return err
			}
			if !match(e.Action) {
				continue
			}
			if err := handle(ctx, ec, e); err != nil {
				return err
			}
		}
	}
}

// OnLocal is OnAction matching one local action name of the epic's own
// container.
func OnLocal(name string, handle EmissionHandler) Epic {
	return func(ctx context.Context, ec *EpicContext) error {
		want := ec.Actions.Type(name)
		return OnAction(func(a action.Action) bool { return a.Type == want }, handle)(ctx, ec)
	}
}

// OnType is OnAction matching one full action type.
func OnType(actionType string, handle EmissionHandler) Epic {
	return OnAction(func(a action.Action) bool { return a.Type == actionType }, handle)
}
