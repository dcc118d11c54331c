package action

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is the read side of a dispatch outcome.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Deferred is the write side of a Future. Exactly one of Resolve or Reject
// wins; later calls are ignored.
type Deferred struct {
	future   *Future
	once     sync.Once
	detached atomic.Bool
}

// NewDeferred creates a linked deferred/future pair.
func NewDeferred() (*Deferred, *Future) {
	f := &Future{done: make(chan struct{})}
	return &Deferred{future: f}, f
}

// Resolved returns a future that already holds v.
func Resolved(v any) *Future {
	d, f := NewDeferred()
	d.Resolve(v)
	return f
}

// Rejected returns a future that already holds err.
func Rejected(err error) *Future {
	d, f := NewDeferred()
	d.Reject(err)
	return f
}

// Resolve settles the future with v. It reports whether this call won.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(v, nil)
}

// Reject settles the future with err. It reports whether this call won.
func (d *Deferred) Reject(err error) bool {
	return d.settle(nil, err)
}

func (d *Deferred) settle(v any, err error) bool {
	won := false
	d.once.Do(func() {
		d.future.value = v
		d.future.err = err
		close(d.future.done)
		won = true
	})
	return won
}

// Detach marks the dispatch as fire-and-forget: nobody will observe a
// rejection through the future.
func (d *Deferred) Detach() {
	d.detached.Store(true)
}

// Detached reports whether Detach was called.
func (d *Deferred) Detached() bool {
	return d.detached.Load()
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a result.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It must only be called after Done is closed;
// before that it returns nil, nil.
func (f *Future) Result() (any, error) {
	if !f.Settled() {
		return nil, nil
	}
	return f.value, f.err
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
