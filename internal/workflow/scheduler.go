package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Processor consumes a stream until ctx is done. Returning nil or a context
// error is a normal stop; any other error is reported to the error hook.
type Processor func(ctx context.Context, s *Stream) error

// ErrorHook receives processor failures. name identifies the processor.
type ErrorHook func(name string, err error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithErrorHook routes processor errors and panics to hook instead of the log.
func WithErrorHook(hook ErrorHook) Option {
	return func(s *Scheduler) {
		s.hook = hook
	}
}

// WithLogger sets the logger used for processor lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

type rootProcessor struct {
	name string
	proc Processor
}

// Scheduler fans emissions out to processors and tracks one-shot tasks.
type Scheduler struct {
	mu     sync.RWMutex
	subs   map[uint64]*mailbox
	nextID uint64
	roots  []rootProcessor
	closed bool

	base      context.Context
	cancelAll context.CancelFunc
	gen       context.Context
	cancelGen context.CancelFunc

	procs sync.WaitGroup
	tasks taskTracker

	hook   ErrorHook
	logger *slog.Logger
}

// New creates a running scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		subs:   make(map[uint64]*mailbox),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base, s.cancelAll = context.WithCancel(context.Background())
	s.gen, s.cancelGen = context.WithCancel(s.base)
	return s
}

// Publish delivers e to every live stream. It never blocks on readers.
func (s *Scheduler) Publish(e Emission) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, box := range s.subs {
		box.push(e)
	}
}

// Subscribe opens a stream that receives every emission published from now
// on. The caller must Close it.
func (s *Scheduler) Subscribe() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked()
}

func (s *Scheduler) subscribeLocked() *Stream {
	s.nextID++
	box := newMailbox()
	if s.closed {
		box.close()
	} else {
		s.subs[s.nextID] = box
	}
	return &Stream{id: s.nextID, box: box, sched: s}
}

func (s *Scheduler) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscribers returns the number of open streams.
func (s *Scheduler) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Add starts p in the current generation. The subscription is opened before
// Add returns, so p observes every emission published after the call. p stops
// when ctx is done or the generation is switched.
func (s *Scheduler) Add(name string, ctx context.Context, p Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.startLocked(name, ctx, s.gen, p)
}

// AddRoot starts p now and again after every Switch.
func (s *Scheduler) AddRoot(name string, p Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.roots = append(s.roots, rootProcessor{name: name, proc: p})
	s.startLocked(name, s.base, s.gen, p)
}

// Switch cancels every running processor and restarts the root processors
// in a fresh generation.
func (s *Scheduler) Switch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.cancelGen()
	s.gen, s.cancelGen = context.WithCancel(s.base)
	for _, r := range s.roots {
		s.startLocked(r.name, s.base, s.gen, r.proc)
	}
	s.logger.Debug("workflow generation switched", "roots", len(s.roots))
}

func (s *Scheduler) startLocked(name string, owner, gen context.Context, p Processor) {
	stream := s.subscribeLocked()

	ctx, cancel := context.WithCancel(gen)
	stop := context.AfterFunc(owner, cancel)

	s.procs.Add(1)
	go func() {
		defer s.procs.Done()
		defer stream.Close()
		defer stop()
		defer cancel()

		s.logger.Debug("processor started", "processor", name)
		err := runProcessor(ctx, stream, p)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrStreamClosed):
			s.logger.Debug("processor stopped", "processor", name, "unread", stream.Pending())
		default:
			s.report(name, err)
		}
	}()
}

func runProcessor(ctx context.Context, stream *Stream, p Processor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p(ctx, stream)
}

func (s *Scheduler) report(name string, err error) {
	if s.hook != nil {
		s.hook(name, err)
		return
	}
	s.logger.Error("processor failed", "processor", name, "error", err)
}

// Go runs fn as a tracked one-shot task. Panics are recovered and reported
// under name.
func (s *Scheduler) Go(name string, fn func()) {
	s.tasks.add()
	go func() {
		defer s.tasks.done()
		defer func() {
			if r := recover(); r != nil {
				s.report(name, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			}
		}()
		fn()
	}()
}

// Idle blocks until no task started with Go is running, or ctx is done.
func (s *Scheduler) Idle(ctx context.Context) error {
	return s.tasks.wait(ctx)
}

// Context returns the context of the current generation.
func (s *Scheduler) Context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Close cancels every processor and waits for processors and tasks to exit.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelAll()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.procs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("workflow: close: %w", ctx.Err())
	}
	return s.tasks.wait(ctx)
}

// taskTracker counts running tasks and lets callers wait for zero. Unlike a
// WaitGroup it tolerates new tasks starting while someone is waiting.
type taskTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (t *taskTracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *taskTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

func (t *taskTracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.n == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
