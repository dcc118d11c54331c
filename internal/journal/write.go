package journal

import (
	"context"
	"fmt"
)

// Entry is one journaled action.
type Entry struct {
	// Run identifies one engine instance; Seq is unique within a run.
	Run        string
	Seq        int64
	Token      string
	Type       string
	Namespace  string
	ActionName string
	Reserved   bool

	// Payload is the canonical JSON of the payload ("null" when absent).
	Payload string

	// StateHash is the content hash of the root state after the action.
	StateHash string
}

// Record appends an entry. Recording the same (run, seq) twice is a no-op.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	payload := e.Payload
	if payload == "" {
		payload = "null"
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO actions
		(run, seq, token, type, namespace, action_name, reserved, payload, state_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, seq) DO NOTHING
	`,
		e.Run,
		e.Seq,
		e.Token,
		e.Type,
		e.Namespace,
		e.ActionName,
		boolToInt(e.Reserved),
		payload,
		e.StateHash,
	)
	if err != nil {
		return fmt.Errorf("record action %s: %w", e.Type, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
