package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	im "gomigrator/internal/migrator"
	pub "gomigrator/pkg/migrator"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello_world"},
		{"MyMigration_01", "MyMigration_01"},
		{"test/file\\name", "test_file_name"},
		{"!@#$%^", "migration"},
		{"", "migration"},
		{"123-abc", "123-abc"},
	}

	for _, tt := range tests {
		got := sanitizeName(tt.input)
		if got != tt.expected {
			t.Errorf("sanitizeName(%q) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCommandSetup(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addCommonFlags(fs)

	t.Run("CreateUp", func(_ *testing.T) { _ = cmdUp(fs) })
	t.Run("CreateDown", func(_ *testing.T) { _ = cmdDown(fs) })
	t.Run("CreateDownTo", func(_ *testing.T) { _ = cmdDownTo(fs) })
	t.Run("CreateRedo", func(_ *testing.T) { _ = cmdRedo(fs) })
	t.Run("CreatePending", func(_ *testing.T) { _ = cmdPending(fs) })
	t.Run("CreateStatus", func(_ *testing.T) { _ = cmdStatus(fs) })
	t.Run("CreateDBVersion", func(_ *testing.T) { _ = cmdDBVersion(fs) })
	t.Run("CreateCreate", func(_ *testing.T) { _ = cmdCreate(fs) })

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"create", "up", "down", "down-to", "redo", "pending", "status", "dbversion"}, names)
}

func TestCreateTemplates(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1700000000000)

	path, err := createSQLTemplate(dir, "add users", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "1700000000000_add_users.sql"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "-- +migrate Up")
	assert.Contains(t, string(b), "-- +migrate Down")

	path, err = createGoTemplate(dir, "seed", now)
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `lib.Register(1700000000000, "seed", up1700000000000, down1700000000000)`)
	assert.Contains(t, string(b), `lib "gomigrator/pkg/migrator"`)
}

func TestRunReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runReport(&buf, nil, nil))
	assert.Equal(t, "Nothing to do\n", buf.String())

	buf.Reset()
	boom := errors.New("boom")
	rep := pub.Report{
		{Version: 1, Name: "init", Direction: im.Up, Outcome: im.OutcomeApplied},
		{Version: 2, Name: "seed", Direction: im.Up, Outcome: im.OutcomeFailed, Detail: "boom"},
	}
	err := runReport(&buf, rep, boom)
	assert.ErrorIs(t, err, boom)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Applied: init (v1)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "FAILED: seed (v2)"))
}

func TestCLI_SQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrations, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "1_init.sql"),
		[]byte("-- +migrate Up\nCREATE TABLE foo(id INTEGER);\n-- +migrate Down\nDROP TABLE foo;\n"), 0o644))

	run := func(args ...string) (string, error) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		base := []string{"--driver", "sqlite", "--dsn", filepath.Join(dir, "app.db"), "--path", migrations, "--log_level", "error"}
		root.SetArgs(append(args, base...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied: init (v1)")

	out, err = run("dbversion")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = run("down-to", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "RolledBack: init (v1)")

	_, err = run("down-to", "abc")
	assert.Error(t, err)
}
