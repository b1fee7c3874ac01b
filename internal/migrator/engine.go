package migrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"gomigrator/internal/logging"
)

// Engine applies and rolls back the migrations of a Registry, tracking them in a StateStore.
// Batches are strictly sequential and stop at the first failure.
type Engine struct {
	reg    *Registry
	store  StateStore
	locker Locker
	logger *logging.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker serialises every batch through l.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, used for markers and durations.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine builds an engine over reg and store. Without WithLocker batches are not serialised.
func NewEngine(reg *Registry, store StateStore, opts ...Option) *Engine {
	e := &Engine{reg: reg, store: store, logger: logging.Default(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

type batchFunc func(ctx context.Context, batchID string, log *logging.Logger) (Report, error)

// batch freezes the registry, takes the lock and runs fn as one batch.
func (e *Engine) batch(ctx context.Context, op string, fn batchFunc) (Report, error) {
	e.reg.Freeze()
	id := uuid.NewString()
	log := e.logger.WithBatch(id)
	log.Debug("batch started", "op", op)

	var (
		rep Report
		ran bool
	)
	run := func(ctx context.Context) error {
		ran = true
		var err error
		rep, err = fn(ctx, id, log)
		return err
	}
	var err error
	if e.locker != nil {
		err = e.locker.WithLock(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil && !ran {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	if err != nil {
		log.Error("batch halted", "op", op, "steps", len(rep), "error", err)
		return rep, err
	}
	log.Info("batch finished", "op", op, "steps", len(rep))
	return rep, nil
}

// ApplyPending runs Up for every registered, not yet applied migration in ascending order.
func (e *Engine) ApplyPending(ctx context.Context) (Report, error) {
	return e.batch(ctx, "up", func(ctx context.Context, id string, log *logging.Logger) (Report, error) {
		pending, err := e.pending(ctx)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			log.Info("no pending migrations")
			return Report{}, nil
		}
		return e.apply(ctx, id, log, pending)
	})
}

// RollbackTo runs Down for every applied version strictly greater than target, highest first.
func (e *Engine) RollbackTo(ctx context.Context, target int64) (Report, error) {
	return e.batch(ctx, "down", func(ctx context.Context, _ string, log *logging.Logger) (Report, error) {
		applied, err := e.appliedDescending(ctx)
		if err != nil {
			return nil, err
		}
		sel := make([]int64, 0, len(applied))
		for _, v := range applied {
			if v > target {
				sel = append(sel, v)
			}
		}
		return e.rollback(ctx, log, sel)
	})
}

// RollbackOne rolls back the highest applied version. It is a no-op when nothing is applied.
func (e *Engine) RollbackOne(ctx context.Context) (Report, error) {
	return e.batch(ctx, "down", func(ctx context.Context, _ string, log *logging.Logger) (Report, error) {
		applied, err := e.appliedDescending(ctx)
		if err != nil {
			return nil, err
		}
		if len(applied) == 0 {
			log.Info("nothing to roll back")
			return Report{}, nil
		}
		return e.rollback(ctx, log, applied[:1])
	})
}

// Redo rolls back the highest applied version and applies it again.
func (e *Engine) Redo(ctx context.Context) (Report, error) {
	return e.batch(ctx, "redo", func(ctx context.Context, id string, log *logging.Logger) (Report, error) {
		applied, err := e.appliedDescending(ctx)
		if err != nil {
			return nil, err
		}
		if len(applied) == 0 {
			log.Info("nothing to redo")
			return Report{}, nil
		}
		migs, err := e.resolve(applied[:1])
		if err != nil {
			return nil, err
		}
		rep, err := e.rollback(ctx, log, applied[:1])
		if err != nil {
			return rep, err
		}
		up, err := e.apply(ctx, id, log, migs)
		return append(rep, up...), err
	})
}

// Pending returns the migrations ApplyPending would run, in order.
func (e *Engine) Pending(ctx context.Context) ([]Migration, error) {
	e.reg.Freeze()
	return e.pending(ctx)
}

// Version returns the highest applied version, or 0 when none.
func (e *Engine) Version(ctx context.Context) (int64, error) {
	applied, err := e.appliedDescending(ctx)
	if err != nil {
		return 0, err
	}
	if len(applied) == 0 {
		return 0, nil
	}
	return applied[0], nil
}

func (e *Engine) pending(ctx context.Context) ([]Migration, error) {
	var out []Migration
	for m := range e.reg.All() {
		ok, err := e.store.IsApplied(ctx, m.Version)
		if err != nil {
			return nil, &PersistenceError{Version: m.Version, Op: "check", Err: err}
		}
		if !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *Engine) appliedDescending(ctx context.Context) ([]int64, error) {
	applied, err := e.store.AppliedDescending(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list applied", Err: err}
	}
	slices.Sort(applied)
	slices.Reverse(applied)
	return applied, nil
}

// resolve maps every version to its migration before anything runs, so a
// missing one aborts the batch with no state touched.
func (e *Engine) resolve(versions []int64) ([]Migration, error) {
	out := make([]Migration, 0, len(versions))
	for _, v := range versions {
		m, err := e.reg.Lookup(v)
		if errors.Is(err, ErrNotFound) {
			return nil, &MissingDownMigrationError{Version: v}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) apply(ctx context.Context, batchID string, log *logging.Logger, migs []Migration) (Report, error) {
	rep := make(Report, 0, len(migs))
	for _, m := range migs {
		if err := ctx.Err(); err != nil {
			log.Warn("batch cancelled before migration", "version", m.Version, "error", err)
			return rep, err
		}
		res, err := e.applyOne(ctx, batchID, log.WithVersion(m.Version), m)
		rep = append(rep, res)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (e *Engine) applyOne(ctx context.Context, batchID string, log *logging.Logger, m Migration) (Result, error) {
	res := Result{Version: m.Version, Name: m.Name, Direction: Up}
	log.Info("applying migration", "name", m.Name)
	started := e.now()
	err := m.Up(ctx)
	res.Duration = e.now().Sub(started)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		log.Error("migration failed", "name", m.Name, "error", err)
		return res, &ActionError{Version: m.Version, Name: m.Name, Direction: Up, Err: err}
	}
	marker := Marker{
		Name:      m.Name,
		Checksum:  m.Checksum,
		AppliedAt: e.now().UTC(),
		BatchID:   batchID,
		Duration:  res.Duration,
	}
	// the action completed, so record it even if the caller has cancelled since
	if err := e.store.MarkApplied(context.WithoutCancel(ctx), m.Version, marker); err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		res.StateTracking = true
		log.Error("migration ran but was not recorded", "name", m.Name, "error", err)
		return res, &PersistenceError{Version: m.Version, Op: "mark applied", Err: err}
	}
	res.Outcome = OutcomeApplied
	log.Info("migration applied", "name", m.Name, "duration", res.Duration)
	return res, nil
}

func (e *Engine) rollback(ctx context.Context, log *logging.Logger, versions []int64) (Report, error) {
	migs, err := e.resolve(versions)
	if err != nil {
		return nil, err
	}
	if len(migs) == 0 {
		log.Info("nothing to roll back")
	}
	rep := make(Report, 0, len(migs))
	for _, m := range migs {
		if err := ctx.Err(); err != nil {
			log.Warn("batch cancelled before rollback", "version", m.Version, "error", err)
			return rep, err
		}
		res, err := e.rollbackOne(ctx, log.WithVersion(m.Version), m)
		rep = append(rep, res)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (e *Engine) rollbackOne(ctx context.Context, log *logging.Logger, m Migration) (Result, error) {
	res := Result{Version: m.Version, Name: m.Name, Direction: Down}
	log.Info("rolling back migration", "name", m.Name)
	started := e.now()
	err := m.Down(ctx)
	res.Duration = e.now().Sub(started)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		log.Error("rollback failed", "name", m.Name, "error", err)
		return res, &ActionError{Version: m.Version, Name: m.Name, Direction: Down, Err: err}
	}
	if err := e.store.MarkRolledBack(context.WithoutCancel(ctx), m.Version); err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		res.StateTracking = true
		log.Error("rollback ran but was not recorded", "name", m.Name, "error", err)
		return res, &PersistenceError{Version: m.Version, Op: "mark rolled back", Err: err}
	}
	res.Outcome = OutcomeRolledBack
	log.Info("migration rolled back", "name", m.Name, "duration", res.Duration)
	return res, nil
}
