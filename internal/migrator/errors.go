package migrator

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateVersion     = errors.New("duplicate migration version")
	ErrNotFound             = errors.New("migration not found")
	ErrMissingDownMigration = errors.New("missing down migration")
	ErrActionFailed         = errors.New("migration action failed")
	ErrPersistence          = errors.New("migration state persistence failed")
	ErrInvalidMigration     = errors.New("invalid migration")
	ErrRegistryFrozen       = errors.New("registry is frozen")
	// ErrAlreadyApplied is returned by StateStore.MarkApplied when another
	// runner recorded the version first.
	ErrAlreadyApplied = errors.New("version already marked applied")
)

// DuplicateVersionError reports a rejected registration.
type DuplicateVersionError struct {
	Version  int64
	Existing string
	New      string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("migration %d already registered as %q, cannot register %q", e.Version, e.Existing, e.New)
}

func (e *DuplicateVersionError) Is(target error) bool { return target == ErrDuplicateVersion }

// MissingDownMigrationError means an applied version has no registered migration to roll it back.
type MissingDownMigrationError struct {
	Version int64
}

func (e *MissingDownMigrationError) Error() string {
	return fmt.Sprintf("cannot find migration %d to rollback", e.Version)
}

func (e *MissingDownMigrationError) Is(target error) bool { return target == ErrMissingDownMigration }

// ActionError wraps a failed up or down action.
type ActionError struct {
	Version   int64
	Name      string
	Direction Direction
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %d_%s failed: %v", e.Direction, e.Version, e.Name, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }

// PersistenceError wraps a StateStore failure. Version is 0 when the failure
// happened while reading the applied set rather than recording one migration.
type PersistenceError struct {
	Version int64
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("state store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("state store %s %d: %v", e.Op, e.Version, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
