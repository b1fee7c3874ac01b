package migrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoStep_Migration(t *testing.T) {
	exec := &recordingExec{}
	step := GoStep{
		Version: 10,
		Name:    "seed",
		Up: func(ctx context.Context, x Execer) error {
			return x.Exec(ctx, "INSERT INTO foo(id) VALUES ($1)", 1)
		},
		Down: func(ctx context.Context, x Execer) error {
			return x.Exec(ctx, "DELETE FROM foo WHERE id=$1", 1)
		},
	}
	m := step.Migration(exec)
	require.NoError(t, NewRegistry().Register(m))

	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))
	assert.Equal(t, 2, exec.txs)
	assert.Equal(t, []string{"INSERT INTO foo(id) VALUES ($1)", "DELETE FROM foo WHERE id=$1"}, exec.stmts)
}

func TestGoStep_MissingDownIsRejected(t *testing.T) {
	step := GoStep{Version: 1, Name: "up-only", Up: func(context.Context, Execer) error { return nil }}
	assert.ErrorIs(t, NewRegistry().Register(step.Migration(&recordingExec{})), ErrInvalidMigration)
}
