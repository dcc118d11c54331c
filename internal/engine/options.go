package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/journal"
	"github.com/roach88/modux/internal/registry"
	"github.com/roach88/modux/internal/workflow"
)

// Option configures an Engine.
type Option func(*Engine)

// UnhandledEffectErrorHook receives the failures of effects triggered by Send,
// whose callers never look at the outcome.
type UnhandledEffectErrorHook func(a action.Action, err error)

// EpicErrorHook receives epic failures. name identifies the epic
// ("epic:<namespace>#<index>" or the name of a root epic).
type EpicErrorHook func(name string, err error)

// RootEpic is a store-wide processor. It is restarted after every reload.
type RootEpic func(ctx context.Context, e *Engine, s *workflow.Stream) error

// Journal is where committed actions are recorded.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	LastSeq(ctx context.Context, run string) (int64, error)
}

// WithDependencies sets the dependencies handed to every model callback.
func WithDependencies(deps map[string]any) Option {
	return func(e *Engine) {
		e.deps = deps
	}
}

// WithActionNameResolver replaces the default dot-joined action naming.
func WithActionNameResolver(r registry.ActionNameResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithUnhandledEffectErrorHook sets the hook for failed fire-and-forget
// effects. Without one they are logged at error level.
func WithUnhandledEffectErrorHook(hook UnhandledEffectErrorHook) Option {
	return func(e *Engine) {
		e.unhandled = hook
	}
}

// WithEpicErrorHook sets the hook for failed epics. Without one they are
// logged at error level.
func WithEpicErrorHook(hook EpicErrorHook) Option {
	return func(e *Engine) {
		e.epicHook = hook
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithJournal records every committed action under run. If the journal
// already holds entries for run, sequence numbers continue after them.
func WithJournal(j Journal, run string) Option {
	return func(e *Engine) {
		e.journal = j
		e.run = run
	}
}

// WithTokenGenerator sets the dispatch token generator.
// Default: action.UUIDv7Generator.
func WithTokenGenerator(gen action.TokenGenerator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.tokens = gen
		}
	}
}

// WithEpic adds a root epic.
func WithEpic(name string, epic RootEpic) Option {
	return func(e *Engine) {
		e.rootEpics = append(e.rootEpics, namedEpic{name: name, epic: epic})
	}
}

type namedEpic struct {
	name string
	epic RootEpic
}
