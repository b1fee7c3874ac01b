package migrator

import (
	"context"
	"time"
)

// Direction represents the direction of a migration (Up or Down).
type Direction int

const (
	// Up represents a forward migration.
	Up Direction = iota
	// Down represents a rollback migration.
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// Action is one half of a migration. It either fully succeeds or returns an error.
type Action func(ctx context.Context) error

// Migration is a single versioned, reversible schema change.
type Migration struct {
	Version  int64
	Name     string
	Up       Action
	Down     Action
	Checksum string
}

// Marker is what a StateStore keeps for an applied version.
type Marker struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
	BatchID   string
	Duration  time.Duration
}

// AppliedVersion pairs an applied version with its marker.
type AppliedVersion struct {
	Version int64
	Marker  Marker
}

// StateStore is the durable record of applied versions.
//
// MarkApplied must behave as a conditional insert: if the version is already
// present it returns ErrAlreadyApplied instead of succeeding twice.
// Writes must be durable before the call returns.
type StateStore interface {
	IsApplied(ctx context.Context, version int64) (bool, error)
	MarkApplied(ctx context.Context, version int64, m Marker) error
	MarkRolledBack(ctx context.Context, version int64) error
	AppliedDescending(ctx context.Context) ([]int64, error)
}

// AppliedLister is implemented by stores that can return markers, used by Status.
type AppliedLister interface {
	ListApplied(ctx context.Context) ([]AppliedVersion, error)
}

// Locker serialises batches across processes sharing one database.
type Locker interface {
	WithLock(ctx context.Context, fn func(context.Context) error) error
}

// Execer runs a single statement. Go migrations receive one bound to a transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Executor is the database side of a migration action.
type Executor interface {
	// ExecTx runs a chunk of SQL inside a single transaction.
	ExecTx(ctx context.Context, sql string) error
	// InTx runs fn inside a transaction, committing only when it returns nil.
	InTx(ctx context.Context, fn func(Execer) error) error
}
