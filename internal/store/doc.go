// Package store is the reducer-driven state container the engine is built
// on.
//
// A Store holds one root state value. Dispatch runs an action through the
// middleware chain and the reducer in a single turn; turns never overlap.
//
// # Turns
//
//   - Dispatch acquires the turn lock, runs the chain and releases the lock
//   - Middlewares may re-dispatch through MiddlewareAPI.Dispatch; that call
//     runs inside the current turn and must not be used from other goroutines
//   - Listeners run after the turn is released, once per outer Dispatch
//
// # Reads
//
// GetState loads an atomic pointer and never waits for a turn. A reader sees
// either the state before or after a reducer pass, never a partial one.
package store
