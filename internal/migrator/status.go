package migrator

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// State of a version as seen by Status.
type State string

const (
	StateApplied State = "applied"
	StatePending State = "pending"
	// StateMissing marks a version recorded as applied that is not registered.
	StateMissing State = "missing"
)

// StatusRow is one line of Status output. AppliedAt and BatchID are zero for pending rows.
type StatusRow struct {
	Version   int64
	Name      string
	State     State
	AppliedAt time.Time
	BatchID   string
}

// Status merges the registry with the applied set, ascending by version.
func (e *Engine) Status(ctx context.Context) ([]StatusRow, error) {
	e.reg.Freeze()
	applied, err := e.listApplied(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int64]Marker, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a.Marker
	}

	rows := make([]StatusRow, 0, e.reg.Len()+len(applied))
	for m := range e.reg.All() {
		row := StatusRow{Version: m.Version, Name: m.Name, State: StatePending}
		if mk, ok := byVersion[m.Version]; ok {
			row.State = StateApplied
			row.AppliedAt = mk.AppliedAt
			row.BatchID = mk.BatchID
			delete(byVersion, m.Version)
		}
		rows = append(rows, row)
	}
	for v, mk := range byVersion {
		rows = append(rows, StatusRow{Version: v, Name: mk.Name, State: StateMissing, AppliedAt: mk.AppliedAt, BatchID: mk.BatchID})
	}
	slices.SortFunc(rows, func(a, b StatusRow) int { return cmp.Compare(a.Version, b.Version) })
	return rows, nil
}

func (e *Engine) listApplied(ctx context.Context) ([]AppliedVersion, error) {
	if l, ok := e.store.(AppliedLister); ok {
		out, err := l.ListApplied(ctx)
		if err != nil {
			return nil, &PersistenceError{Op: "list applied", Err: err}
		}
		return out, nil
	}
	versions, err := e.appliedDescending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AppliedVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, AppliedVersion{Version: v})
	}
	return out, nil
}
