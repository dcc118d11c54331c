package store

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
)

// Reducer computes the next root state. Returning an error leaves the state
// unchanged and fails the dispatch.
type Reducer func(state ir.Value, a action.Action) (ir.Value, error)

// DispatchFunc is one link of the dispatch chain.
type DispatchFunc func(a action.Action) error

// MiddlewareAPI is what a middleware can do with the store.
type MiddlewareAPI interface {
	GetState() ir.Value
	// Dispatch re-enters the chain from the top inside the current turn.
	Dispatch(a action.Action) error
}

// Middleware wraps the rest of the chain.
type Middleware func(api MiddlewareAPI) func(next DispatchFunc) DispatchFunc

type stateBox struct {
	v ir.Value
}

// Store is a reducer store.
type Store struct {
	turn    sync.Mutex
	state   atomic.Pointer[stateBox]
	reducer Reducer
	chain   DispatchFunc

	listenersMu sync.Mutex
	listeners   map[uint64]func()
	nextID      uint64
}

// New creates a store. Middlewares run in the order given; the reducer is
// the innermost link.
func New(reducer Reducer, initial ir.Value, middlewares ...Middleware) *Store {
	if initial == nil {
		initial = ir.Object{}
	}
	s := &Store{
		reducer:   reducer,
		listeners: make(map[uint64]func()),
	}
	s.state.Store(&stateBox{v: initial})

	api := inTurnAPI{s}
	chain := DispatchFunc(s.reduce)
	for i := len(middlewares) - 1; i >= 0; i-- {
		chain = middlewares[i](api)(chain)
	}
	s.chain = chain
	return s
}

func (s *Store) reduce(a action.Action) error {
	next, err := s.reducer(s.GetState(), a)
	if err != nil {
		return err
	}
	s.state.Store(&stateBox{v: next})
	return nil
}

// Dispatch runs a through the chain in a new turn.
func (s *Store) Dispatch(a action.Action) error {
	s.turn.Lock()
	err := s.chain(a)
	s.turn.Unlock()

	s.notify()
	return err
}

// GetState returns the current root state.
func (s *Store) GetState() ir.Value {
	return s.state.Load().v
}

// Subscribe registers a listener called after every dispatch. The returned
// function removes it.
func (s *Store) Subscribe(listener func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = listener

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type inTurnAPI struct {
	s *Store
}

func (a inTurnAPI) GetState() ir.Value {
	return a.s.GetState()
}

func (a inTurnAPI) Dispatch(act action.Action) error {
	return a.s.chain(act)
}
