// Package migrator provides the public API for running migrations.
package migrator

import (
	"context"
	"fmt"

	icfg "gomigrator/internal/config"
	ipg "gomigrator/internal/driver/postgres"
	isq "gomigrator/internal/driver/sqlite"
	"gomigrator/internal/logging"
	im "gomigrator/internal/migrator"
	"gomigrator/internal/statefile"
)

type (
	Config    = icfg.Config
	Report    = im.Report
	Result    = im.Result
	StatusRow = im.StatusRow
	Migration = im.Migration
	Execer    = im.Execer
	GoFunc    = im.GoFunc
)

// session is one opened database plus an engine over the configured migrations.
type session struct {
	engine *im.Engine
	close  func()
}

func open(ctx context.Context, c Config) (*session, error) {
	var (
		exec   im.Executor
		store  im.StateStore
		locker im.Locker
		closer func()
	)
	switch c.Driver {
	case icfg.DriverSQLite:
		db, err := isq.Open(ctx, c.DSN, c.SchemaTable)
		if err != nil {
			return nil, err
		}
		exec, store, locker = db, db, db
		closer = func() { _ = db.Close() }
	case icfg.DriverPostgres, "":
		db, err := ipg.Connect(ctx, c.DSN, c.SchemaTable, c.LockKey)
		if err != nil {
			return nil, err
		}
		exec, store, locker = db, db, db
		closer = db.Close
	default:
		return nil, fmt.Errorf("unknown driver: %s", c.Driver)
	}
	if c.StateFile != "" {
		store = statefile.New(c.StateFile)
	}

	reg := im.NewRegistry()
	var err error
	switch c.Kind {
	case icfg.KindSQL, "":
		err = im.LoadSQLDir(reg, c.Path, exec)
	case icfg.KindGo:
		for _, s := range registeredGoSteps() {
			if err = reg.Register(s.Migration(exec)); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unknown kind: %s", c.Kind)
	}
	if err != nil {
		closer()
		return nil, err
	}
	engine := im.NewEngine(reg, store, im.WithLocker(locker), im.WithLogger(logging.Default()))
	return &session{engine: engine, close: closer}, nil
}

// RunUp applies all pending migrations according to the configuration.
func RunUp(ctx context.Context, c Config) (Report, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.ApplyPending(ctx)
}

// RunDown rolls back the last applied migration.
func RunDown(ctx context.Context, c Config) (Report, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.RollbackOne(ctx)
}

// RunDownTo rolls back every applied migration above target.
func RunDownTo(ctx context.Context, c Config, target int64) (Report, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.RollbackTo(ctx, target)
}

// RunRedo rolls back and then reapplies the last migration.
func RunRedo(ctx context.Context, c Config) (Report, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.Redo(ctx)
}

// Pending lists migrations that RunUp would apply.
func Pending(ctx context.Context, c Config) ([]Migration, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.Pending(ctx)
}

// Status returns the migration status for all migrations.
func Status(ctx context.Context, c Config) ([]StatusRow, error) {
	s, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.engine.Status(ctx)
}

// DBVersion returns the current database migration version.
func DBVersion(ctx context.Context, c Config) (int64, error) {
	s, err := open(ctx, c)
	if err != nil {
		return 0, err
	}
	defer s.close()
	return s.engine.Version(ctx)
}
