package migrator

import "context"

// GoFunc is the body of a migration written in Go.
type GoFunc func(ctx context.Context, x Execer) error

// GoStep is a Go migration that is not yet bound to a database.
type GoStep struct {
	Version int64
	Name    string
	Up      GoFunc
	Down    GoFunc
}

// Migration binds the step to exec; each action runs in its own transaction.
func (s GoStep) Migration(exec Executor) Migration {
	m := Migration{Version: s.Version, Name: s.Name, Checksum: "go"}
	if s.Up != nil {
		m.Up = goAction(exec, s.Up)
	}
	if s.Down != nil {
		m.Down = goAction(exec, s.Down)
	}
	return m
}

func goAction(exec Executor, fn GoFunc) Action {
	return func(ctx context.Context) error {
		return exec.InTx(ctx, func(x Execer) error { return fn(ctx, x) })
	}
}
