package compiler

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a manifest problem tied to a field and, when CUE knows it,
// a source position.
type CompileError struct {
	// Field is the manifest path of the offending field
	// ("models.todos.reducers.toggle.op").
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Field, e.Message)
}

// cueError wraps a CUE evaluation error for field. CUE may report several
// errors for one value; their messages are joined and the first known
// position wins.
func cueError(err error, field string) error {
	if err == nil {
		return nil
	}
	ce := &CompileError{Field: field}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		ce.Message = err.Error()
		return ce
	}

	msgs := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		msg := e.Error()
		if !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
		if ce.Pos.IsValid() {
			continue
		}
		for _, p := range cueerrors.Positions(e) {
			if p.IsValid() {
				ce.Pos = p
				break
			}
		}
	}
	ce.Message = strings.Join(msgs, "; ")
	return ce
}
