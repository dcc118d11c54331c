package harness

import (
	"encoding/json"

	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/journal"
)

// TraceEvent is one journaled action as seen by assertions and golden files.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Token     string `json:"token"`
	Type      string `json:"type"`
	Namespace string `json:"namespace,omitempty"`
	Action    string `json:"action,omitempty"`

	// Payload is the canonical JSON of the action payload.
	Payload   string `json:"payload"`
	StateHash string `json:"state_hash"`
}

// Reserved reports whether the event is registry bookkeeping.
func (e TraceEvent) Reserved() bool {
	return e.Namespace == "" && e.Action == ""
}

// PayloadValue decodes the payload. Undecodable payloads yield nil.
func (e TraceEvent) PayloadValue() any {
	var v any
	if err := json.Unmarshal([]byte(e.Payload), &v); err != nil {
		return nil
	}
	return v
}

func traceEvent(en journal.Entry) TraceEvent {
	return TraceEvent{
		Seq:       en.Seq,
		Token:     en.Token,
		Type:      en.Type,
		Namespace: en.Namespace,
		Action:    en.ActionName,
		Payload:   en.Payload,
		StateHash: en.StateHash,
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists the journaled actions of the run in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final root state.
	State ir.Value `json:"state,omitempty"`

	// StateHash is the content hash of State.
	StateHash string `json:"state_hash,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
