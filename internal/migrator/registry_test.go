package migrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func mig(v int64, name string) Migration {
	return Migration{Version: v, Name: name, Up: noop, Down: noop}
}

func TestRegistry_SortedRegardlessOfOrder(t *testing.T) {
	r := NewRegistry()
	for _, v := range []int64{30, 10, 20, 5} {
		require.NoError(t, r.Register(mig(v, "m")))
	}
	var got []int64
	for m := range r.All() {
		got = append(got, m.Version)
	}
	assert.Equal(t, []int64{5, 10, 20, 30}, got)

	// restartable
	got = got[:0]
	for m := range r.All() {
		got = append(got, m.Version)
	}
	assert.Equal(t, []int64{5, 10, 20, 30}, got)
}

func TestRegistry_AllStopsEarly(t *testing.T) {
	r := NewRegistry()
	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, r.Register(mig(v, "m")))
	}
	n := 0
	for range r.All() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestRegistry_DuplicateVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(mig(5, "first")))
	err := r.Register(mig(5, "second"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateVersion))

	var dup *DuplicateVersionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, int64(5), dup.Version)
	assert.Equal(t, "first", dup.Existing)
	assert.Equal(t, "second", dup.New)

	m, err := r.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Name)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InvalidMigration(t *testing.T) {
	r := NewRegistry()
	cases := map[string]Migration{
		"zero version": {Version: 0, Name: "x", Up: noop, Down: noop},
		"negative":     {Version: -1, Name: "x", Up: noop, Down: noop},
		"no name":      {Version: 1, Name: "  ", Up: noop, Down: noop},
		"no up":        {Version: 1, Name: "x", Down: noop},
		"no down":      {Version: 1, Name: "x", Up: noop},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, r.Register(m), ErrInvalidMigration)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_LookupNotFound(t *testing.T) {
	_, err := NewRegistry().Lookup(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Frozen(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(mig(1, "one")))
	r.Freeze()
	assert.ErrorIs(t, r.Register(mig(2, "two")), ErrRegistryFrozen)
	assert.Equal(t, 1, r.Len())
}
