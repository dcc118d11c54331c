package testutil

import (
	"sync"

	"github.com/roach88/modux/internal/action"
)

// ErrorLog collects failures reported through the engine's error hooks.
// Safe for concurrent use; hooks fire on effect and epic goroutines.
type ErrorLog struct {
	mu      sync.Mutex
	entries []string
}

// EffectHook records "<action type>: <error>".
func (l *ErrorLog) EffectHook(a action.Action, err error) {
	l.add(a.Type + ": " + err.Error())
}

// EpicHook records "<epic name>: <error>".
func (l *ErrorLog) EpicHook(name string, err error) {
	l.add(name + ": " + err.Error())
}

func (l *ErrorLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

// Entries returns a copy of everything recorded so far.
func (l *ErrorLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded failures.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
