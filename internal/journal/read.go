package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Filter narrows Entries. Zero fields match everything.
type Filter struct {
	Run       string
	Namespace string
	Type      string
	AfterSeq  int64

	// ExcludeReserved drops the registry's bookkeeping actions.
	ExcludeReserved bool

	Limit int
}

// Entries returns journaled actions ordered by run, then seq.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Run != "" {
		where = append(where, "run = ?")
		args = append(args, f.Run)
	}
	if f.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}
	if f.ExcludeReserved {
		where = append(where, "reserved = 0")
	}

	query := `
		SELECT run, seq, token, type, namespace, action_name, reserved, payload, state_hash
		FROM actions`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var reserved int
	if err := rows.Scan(
		&e.Run, &e.Seq, &e.Token, &e.Type, &e.Namespace,
		&e.ActionName, &reserved, &e.Payload, &e.StateHash,
	); err != nil {
		return Entry{}, fmt.Errorf("scan action: %w", err)
	}
	e.Reserved = reserved != 0
	return e, nil
}

// Count returns the number of journaled actions.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest seq recorded for run, or 0.
func (j *Journal) LastSeq(ctx context.Context, run string) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM actions WHERE run = ?
	`, run).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

// Runs lists the distinct run identifiers in first-seen order.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run FROM actions GROUP BY run ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
