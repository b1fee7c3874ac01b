// Package postgres implements the migration state store, SQL executor and
// advisory lock on top of a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gomigrator/internal/logging"
	"gomigrator/internal/migrator"
)

var (
	_ migrator.StateStore    = (*DB)(nil)
	_ migrator.AppliedLister = (*DB)(nil)
	_ migrator.Locker        = (*DB)(nil)
	_ migrator.Executor      = (*DB)(nil)
)

// DB tracks migrations in SchemaTable and serialises batches with an advisory lock on LockKey.
type DB struct {
	Pool        *pgxpool.Pool
	SchemaTable string
	LockKey     int64

	table  string
	logger *logging.Logger
}

// Connect opens a pool for dsn and ensures the tracking table exists.
func Connect(ctx context.Context, dsn, schemaTable string, lockKey int64) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db, err := New(ctx, pool, schemaTable, lockKey)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an existing pool and makes sure the schema table exists.
func New(ctx context.Context, pool *pgxpool.Pool, schemaTable string, lockKey int64) (*DB, error) {
	db := &DB{
		Pool:        pool,
		SchemaTable: schemaTable,
		LockKey:     lockKey,
		table:       quoteTable(schemaTable),
		logger:      logging.Default().WithStore("postgres"),
	}
	if err := db.ensureTables(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() { d.Pool.Close() }

// quoteTable quotes an optionally schema-qualified table name.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func (d *DB) ensureTables(ctx context.Context) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    version         BIGINT PRIMARY KEY,
    name            TEXT NOT NULL,
    checksum        TEXT NOT NULL DEFAULT '',
    batch_id        TEXT NOT NULL DEFAULT '',
    applied_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    execution_ms    BIGINT NOT NULL DEFAULT 0
)`, d.table)
	if _, err := d.Pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create schema table %s: %w", d.SchemaTable, err)
	}
	return nil
}

// WithLock holds a session-level advisory lock on a dedicated connection while fn runs.
func (d *DB) WithLock(ctx context.Context, fn func(context.Context) error) error {
	conn, err := d.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", d.LockKey); err != nil {
		return err
	}
	d.logger.Debug("advisory lock acquired", "key", d.LockKey)
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", d.LockKey); err != nil {
			d.logger.Warn("advisory unlock failed", "key", d.LockKey, "error", err)
		}
	}()
	return fn(ctx)
}

func (d *DB) ExecTx(ctx context.Context, sql string) error {
	return pgx.BeginFunc(ctx, d.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql)
		return err
	})
}

func (d *DB) InTx(ctx context.Context, fn func(migrator.Execer) error) error {
	return pgx.BeginFunc(ctx, d.Pool, func(tx pgx.Tx) error {
		return fn(txExecer{tx})
	})
}

type txExecer struct{ tx pgx.Tx }

func (e txExecer) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := e.tx.Exec(ctx, sql, args...)
	return err
}

func (d *DB) IsApplied(ctx context.Context, version int64) (bool, error) {
	var ok bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE version=$1)", d.table)
	if err := d.Pool.QueryRow(ctx, q, version).Scan(&ok); err != nil {
		return false, fmt.Errorf("check version %d: %w", version, err)
	}
	return ok, nil
}

// MarkApplied inserts the version unless another runner already did.
func (d *DB) MarkApplied(ctx context.Context, version int64, m migrator.Marker) error {
	q := fmt.Sprintf(`INSERT INTO %s(version,name,checksum,batch_id,applied_at,execution_ms)
VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT (version) DO NOTHING`, d.table)
	tag, err := d.Pool.Exec(ctx, q, version, m.Name, m.Checksum, m.BatchID, m.AppliedAt, m.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert version %d: %w", version, err)
	}
	if tag.RowsAffected() == 0 {
		return migrator.ErrAlreadyApplied
	}
	return nil
}

func (d *DB) MarkRolledBack(ctx context.Context, version int64) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE version=$1", d.table)
	if _, err := d.Pool.Exec(ctx, q, version); err != nil {
		return fmt.Errorf("delete version %d: %w", version, err)
	}
	return nil
}

func (d *DB) AppliedDescending(ctx context.Context) ([]int64, error) {
	rows, err := d.Pool.Query(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version DESC", d.table))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

type appliedRow struct {
	Version     int64
	Name        string
	Checksum    string
	BatchID     string
	AppliedAt   time.Time
	ExecutionMs int64
}

func (d *DB) ListApplied(ctx context.Context) ([]migrator.AppliedVersion, error) {
	q := fmt.Sprintf("SELECT version,name,checksum,batch_id,applied_at,execution_ms FROM %s ORDER BY version", d.table)
	rows, err := d.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[appliedRow])
	if err != nil {
		return nil, err
	}
	out := make([]migrator.AppliedVersion, 0, len(recs))
	for _, r := range recs {
		out = append(out, migrator.AppliedVersion{Version: r.Version, Marker: migrator.Marker{
			Name:      r.Name,
			Checksum:  r.Checksum,
			BatchID:   r.BatchID,
			AppliedAt: r.AppliedAt,
			Duration:  time.Duration(r.ExecutionMs) * time.Millisecond,
		}})
	}
	return out, nil
}
