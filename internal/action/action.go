// Package action defines the actions that flow through a store, the reserved
// bookkeeping actions used by the registry, and the deferred/future pair that
// links a dispatch to the outcome of the effect it triggers.
package action

import (
	"context"
	"strings"

	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/nspath"
)

// Action is a single dispatched action.
//
// Type is a full action type: the target namespace joined with the local
// action name ("items/x/setName"). Token identifies one dispatch and links it
// to its deferred. Seq is stamped by the engine clock when the action enters
// the pipeline.
type Action struct {
	Type    string
	Payload any
	Token   string
	Seq     int64

	origin context.Context
}

// New creates an action with the given type and payload.
func New(actionType string, payload any) Action {
	return Action{Type: actionType, Payload: payload}
}

// WithOrigin returns a copy of a bound to the session of the workflow that
// dispatched it. The engine refuses the action once origin is done.
func (a Action) WithOrigin(origin context.Context) Action {
	a.origin = origin
	return a
}

// Origin returns the dispatching workflow session, or nil for actions
// dispatched from outside any workflow.
func (a Action) Origin() context.Context {
	return a.origin
}

// Namespace returns the namespace part of the action type.
func (a Action) Namespace() string {
	ns, _ := nspath.SplitAction(a.Type)
	return ns
}

// Name returns the local action name.
func (a Action) Name() string {
	_, name := nspath.SplitAction(a.Type)
	return name
}

// Reserved action types. They never reach model reducers.
const (
	ReservedPrefix = "@@modux/"

	TypeRegister   = ReservedPrefix + "register"
	TypeUnregister = ReservedPrefix + "unregister"
	TypeReload     = ReservedPrefix + "reload"
	TypeHydrate    = ReservedPrefix + "hydrate"
)

// IsReserved reports whether t is one of the registry's bookkeeping types.
func IsReserved(t string) bool {
	return strings.HasPrefix(t, ReservedPrefix)
}

// RegisterEntry is one element of a register batch.
//
// State is the materialized initial state. The routing middleware fills it in
// before the reducer runs so that argument errors surface to the caller.
type RegisterEntry struct {
	Namespace  string
	ModelIndex int
	Args       ir.Object
	State      ir.Value
}

// UnregisterEntry is one element of an unregister batch.
type UnregisterEntry struct {
	Namespace string
}

// ReloadPayload carries the snapshot for a reload. A nil Snapshot keeps the
// current state and only rebuilds the registry bindings.
type ReloadPayload struct {
	Snapshot ir.Object
}

// Register builds a register batch action.
func Register(entries ...RegisterEntry) Action {
	return Action{Type: TypeRegister, Payload: entries}
}

// Unregister builds an unregister batch action.
func Unregister(entries ...UnregisterEntry) Action {
	return Action{Type: TypeUnregister, Payload: entries}
}

// Reload builds a reload action.
func Reload(snapshot ir.Object) Action {
	return Action{Type: TypeReload, Payload: ReloadPayload{Snapshot: snapshot}}
}

// Hydrate builds the action that fills absent state for rebound namespaces.
func Hydrate(entries ...RegisterEntry) Action {
	return Action{Type: TypeHydrate, Payload: entries}
}

// RegisterEntries returns the batch carried by a register or hydrate action.
func (a Action) RegisterEntries() []RegisterEntry {
	switch p := a.Payload.(type) {
	case []RegisterEntry:
		return p
	case RegisterEntry:
		return []RegisterEntry{p}
	default:
		return nil
	}
}

// UnregisterEntries returns the batch carried by an unregister action.
func (a Action) UnregisterEntries() []UnregisterEntry {
	switch p := a.Payload.(type) {
	case []UnregisterEntry:
		return p
	case UnregisterEntry:
		return []UnregisterEntry{p}
	default:
		return nil
	}
}

// ReloadSnapshot returns the snapshot carried by a reload action.
func (a Action) ReloadSnapshot() ir.Object {
	switch p := a.Payload.(type) {
	case ReloadPayload:
		return p.Snapshot
	case *ReloadPayload:
		if p != nil {
			return p.Snapshot
		}
	case ir.Object:
		return p
	}
	return nil
}
