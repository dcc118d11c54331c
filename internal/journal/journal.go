// Package journal records every action that passes through an engine into an
// append-only SQLite table.
//
// The journal is an audit trail for traces, golden tests and the trace
// command. Nothing is ever restored from it: state lives only in memory.
// Several runs can share one database; every row carries its run id.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	stmt    string
}

// migrations run in order against databases whose user_version is lower.
var migrations = []migration{
	// (run, seq) is unique so a retried Record cannot duplicate a row.
	{1, `CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_run_seq ON actions(run, seq)`},
}

// schemaVersionLatest is the user_version of a fully migrated journal.
var schemaVersionLatest = migrations[len(migrations)-1].version

var connPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Journal is an append-only action log backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at path. ":memory:" gives a
// private in-memory journal. Opening an existing file upgrades its schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only lives as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func setup(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range connPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return migrate(db)
}

func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

// Close closes the database. A zero Journal closes without error.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) schemaVersion() (int, error) {
	var v int
	err := j.db.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}
