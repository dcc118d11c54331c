package workflow

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Next once a stream has been closed.
var ErrStreamClosed = errors.New("workflow: stream closed")

// Stream is one subscription to the scheduler's emissions.
type Stream struct {
	id    uint64
	box   *mailbox
	sched *Scheduler
}

// Next blocks until an emission is available, the stream is closed, or ctx
// is done. A done context wins over pending emissions.
func (s *Stream) Next(ctx context.Context) (Emission, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Emission{}, err
		}
		if e, ok := s.box.pop(); ok {
			return e, nil
		}
		if s.box.isClosed() {
			return Emission{}, ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return Emission{}, ctx.Err()
		case <-s.box.signal:
		}
	}
}

// Pending returns the number of buffered emissions.
func (s *Stream) Pending() int {
	return s.box.len()
}

// Close unsubscribes the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.sched.unsubscribe(s.id)
	s.box.close()
}
