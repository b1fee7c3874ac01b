// Package sqlite implements the migration state store and SQL executor on a
// SQLite database via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"gomigrator/internal/logging"
	"gomigrator/internal/migrator"
)

const busyTimeoutMS = 5000

var (
	_ migrator.StateStore    = (*DB)(nil)
	_ migrator.AppliedLister = (*DB)(nil)
	_ migrator.Locker        = (*DB)(nil)
	_ migrator.Executor      = (*DB)(nil)
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type DB struct {
	SQL         *sql.DB
	SchemaTable string

	// SQLite has no advisory locks; batches in this process are serialised instead.
	lockMu sync.Mutex
	logger *logging.Logger
}

// DSN builds a modernc DSN for a database file, passing plain DSNs through.
func DSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeoutMS)
}

func Open(ctx context.Context, path, schemaTable string) (*DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and writes serialised
	db.SetMaxOpenConns(1)
	d, err := New(ctx, db, schemaTable)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps db and makes sure the schema table exists.
func New(ctx context.Context, db *sql.DB, schemaTable string) (*DB, error) {
	if !tableNameRe.MatchString(schemaTable) {
		return nil, fmt.Errorf("invalid schema table name %q", schemaTable)
	}
	d := &DB{SQL: db, SchemaTable: schemaTable, logger: logging.Default().WithStore("sqlite")}
	if err := d.ensureTables(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

func (d *DB) ensureTables(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		batch_id TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL,
		execution_ms INTEGER NOT NULL DEFAULT 0
	)`, d.SchemaTable)
	if _, err := d.SQL.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create schema table %s: %w", d.SchemaTable, err)
	}
	return nil
}

func (d *DB) WithLock(ctx context.Context, fn func(context.Context) error) error {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	return fn(ctx)
}

func (d *DB) ExecTx(ctx context.Context, q string) error {
	return d.InTx(ctx, func(x migrator.Execer) error { return x.Exec(ctx, q) })
}

func (d *DB) InTx(ctx context.Context, fn func(migrator.Execer) error) (err error) {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				d.logger.Warn("rollback failed", "error", rerr)
			}
		}
	}()
	if err = fn(txExecer{tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txExecer struct{ tx *sql.Tx }

func (e txExecer) Exec(ctx context.Context, q string, args ...any) error {
	_, err := e.tx.ExecContext(ctx, q, args...)
	return err
}

func (d *DB) IsApplied(ctx context.Context, version int64) (bool, error) {
	var one int
	err := d.SQL.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE version = ?", d.SchemaTable), version).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check version %d: %w", version, err)
	}
	return true, nil
}

// MarkApplied inserts the version unless it is already recorded.
func (d *DB) MarkApplied(ctx context.Context, version int64, m migrator.Marker) error {
	q := fmt.Sprintf(`INSERT OR IGNORE INTO %s(version, name, checksum, batch_id, applied_at, execution_ms) VALUES(?, ?, ?, ?, ?, ?)`, d.SchemaTable)
	res, err := d.SQL.ExecContext(ctx, q, version, m.Name, m.Checksum, m.BatchID,
		m.AppliedAt.UTC().Format(time.RFC3339Nano), m.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert version %d: %w", version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert version %d: %w", version, err)
	}
	if n == 0 {
		return migrator.ErrAlreadyApplied
	}
	return nil
}

func (d *DB) MarkRolledBack(ctx context.Context, version int64) error {
	if _, err := d.SQL.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = ?", d.SchemaTable), version); err != nil {
		return fmt.Errorf("delete version %d: %w", version, err)
	}
	return nil
}

func (d *DB) AppliedDescending(ctx context.Context) ([]int64, error) {
	rows, err := d.SQL.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version DESC", d.SchemaTable))
	if err != nil {
		return nil, fmt.Errorf("list applied: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (d *DB) ListApplied(ctx context.Context) ([]migrator.AppliedVersion, error) {
	q := fmt.Sprintf("SELECT version, name, checksum, batch_id, applied_at, execution_ms FROM %s ORDER BY version", d.SchemaTable)
	rows, err := d.SQL.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list applied: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []migrator.AppliedVersion
	for rows.Next() {
		var (
			a      migrator.AppliedVersion
			at     string
			execMs int64
		)
		if err := rows.Scan(&a.Version, &a.Marker.Name, &a.Marker.Checksum, &a.Marker.BatchID, &at, &execMs); err != nil {
			return nil, fmt.Errorf("scan applied: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at of version %d: %w", a.Version, err)
		}
		a.Marker.AppliedAt = t
		a.Marker.Duration = time.Duration(execMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}
