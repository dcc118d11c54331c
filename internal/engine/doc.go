// Package engine ties the registry, the reducer store and the workflow
// scheduler together into one namespaced model store.
//
// DISPATCH TURN:
//
// Every action enters through Engine.Dispatch or Engine.Send and runs inside
// one store turn:
//  1. The routing middleware handles bookkeeping actions (register,
//     unregister, reload, hydrate) by updating registry bindings, or
//     auto-registers the target namespace of an ordinary action.
//  2. The root reducer computes the next root state. Model reducers run on
//     a draft of their container's sub-state, so untouched branches keep
//     their identity.
//  3. The action is stamped from the Clock, published with the new state to
//     every workflow stream, and recorded in the journal when one is
//     configured.
//  4. The dispatch future is settled: by the matching effect if the target
//     container is registered and has one, otherwise with nil.
//
// Turns never overlap. Effects and epics run on their own goroutines and
// talk to the store only by dispatching further actions.
//
// CANCELLATION:
//
// Each registration owns a session context. Unregister and reload cancel it,
// which stops the container's epics and makes the action helpers handed to
// its effects and epics refuse further dispatches.
//
// STATE LAYOUT:
//
// The root state is an object keyed by storage path ("items.x"). The
// reserved key "@@models" maps each dynamic base path to its keys and the
// model variant index each key was registered with.
package engine
