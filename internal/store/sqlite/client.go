// Package sqlite is a single-file store for the settlement plan, settlement
// history and audit log. It uses the pure Go modernc.org/sqlite driver, so
// no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlement_plan (
    slot       INTEGER PRIMARY KEY CHECK (slot = 1),
    plan       TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settlements (
    id             TEXT    PRIMARY KEY,
    doc            TEXT    NOT NULL,
    stake_contract TEXT    NOT NULL DEFAULT '',
    profit_symbol  TEXT    NOT NULL DEFAULT '',
    profit_amount  INTEGER NOT NULL DEFAULT 0,
    status         TEXT    NOT NULL,
    started_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_started ON settlements(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_settlements_profit  ON settlements(status, profit_symbol, stake_contract, started_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at DESC);
`

// DB wraps the database handle shared by the stores.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// listClause appends the time window, ordering and pagination of opts to a
// SELECT whose WHERE clause is already open. Times are unix nanoseconds.
func listClause(base, timeCol, order string, opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(base)
	if opts.Since != nil {
		b.WriteString(" AND " + timeCol + " >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		b.WriteString(" AND " + timeCol + " < ?")
		args = append(args, opts.Until.UnixNano())
	}
	b.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, opts.Offset)
	}
	return b.String(), args
}
