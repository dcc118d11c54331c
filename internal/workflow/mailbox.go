package workflow

import (
	"sync"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
)

// Emission is what a processor observes for one dispatch. State is the root
// state produced by the reducer pass of Action.
type Emission struct {
	Action action.Action
	State  ir.Value
}

// mailbox is a thread-safe unbounded FIFO of emissions.
//
// A buffered signal channel of size 1 coalesces wakeups so readers can select
// on it together with a context.
type mailbox struct {
	mu     sync.Mutex
	items  []Emission
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		items:  make([]Emission, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends an emission. Returns false if the mailbox is closed.
func (m *mailbox) push(e Emission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items = append(m.items, e)
	m.notify()
	return true
}

// pop removes the front emission without blocking.
func (m *mailbox) pop() (Emission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return Emission{}, false
	}
	e := m.items[0]
	// Clear the slot so the backing array does not pin old state trees.
	m.items[0] = Emission{}
	if len(m.items) == 1 {
		m.items = m.items[:0]
	} else {
		m.items = m.items[1:]
	}
	return e, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	m.notify()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// notify must be called with m.mu held.
func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
