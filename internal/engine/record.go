package engine

import (
	"context"
	"encoding/json"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/journal"
)

// record appends a committed action to the journal. Failures are logged and
// never fail the dispatch.
func (e *Engine) record(a action.Action, state ir.Value) {
	if e.journal == nil {
		return
	}

	hash, err := ir.StateHash(state)
	if err != nil {
		e.logger.Warn("journal: cannot hash state", "seq", a.Seq, "error", err)
	}

	entry := journal.Entry{
		Run:        e.run,
		Seq:        a.Seq,
		Token:      a.Token,
		Type:       a.Type,
		Namespace:  a.Namespace(),
		ActionName: a.Name(),
		Reserved:   action.IsReserved(a.Type),
		Payload:    payloadJSON(a),
		StateHash:  hash,
	}
	if entry.Reserved {
		entry.Namespace, entry.ActionName = "", ""
	}

	if err := e.journal.Record(context.Background(), entry); err != nil {
		e.logger.Error("journal: record failed",
			"seq", a.Seq,
			"type", a.Type,
			"error", err)
	}
}

// payloadJSON renders the payload as canonical JSON. Bookkeeping payloads
// are reduced to what identifies them; payloads that are not representable
// as ir values are journaled as null.
func payloadJSON(a action.Action) string {
	var p any
	switch a.Type {
	case action.TypeRegister, action.TypeHydrate:
		entries := a.RegisterEntries()
		arr := make(ir.Array, 0, len(entries))
		for _, en := range entries {
			obj := ir.Object{
				"namespace":   ir.String(en.Namespace),
				"model_index": ir.Int(en.ModelIndex),
			}
			if en.Args != nil {
				obj["args"] = en.Args
			}
			arr = append(arr, obj)
		}
		p = arr
	case action.TypeUnregister:
		entries := a.UnregisterEntries()
		arr := make(ir.Array, 0, len(entries))
		for _, en := range entries {
			arr = append(arr, ir.Object{"namespace": ir.String(en.Namespace)})
		}
		p = arr
	case action.TypeReload:
		if snap := a.ReloadSnapshot(); snap != nil {
			if h, err := ir.StateHash(snap); err == nil {
				p = ir.Object{"snapshot_hash": ir.String(h)}
			}
		}
	default:
		p = a.Payload
	}

	if data, err := ir.MarshalCanonical(p); err == nil {
		return string(data)
	}
	// Structs and other plain Go values: go through encoding/json first.
	raw, err := json.Marshal(p)
	if err != nil {
		return "null"
	}
	v, err := ir.ParseJSON(raw)
	if err != nil {
		return "null"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
