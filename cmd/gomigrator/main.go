package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	cfg "gomigrator/internal/config"
	"gomigrator/internal/logging"
	pub "gomigrator/pkg/migrator"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gomigrator",
		Short:         "Database schema migration tool for PostgreSQL and SQLite (SQL & Go)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	addCommonFlags(flags)
	flags.StringVarP(&cfgFile, "config", "c", "", "Path to config YAML")

	root.AddCommand(
		cmdCreate(flags),
		cmdUp(flags),
		cmdDown(flags),
		cmdDownTo(flags),
		cmdRedo(flags),
		cmdPending(flags),
		cmdStatus(flags),
		cmdDBVersion(flags),
	)
	return root
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("driver", "postgres", "Database driver: postgres|sqlite")
	fs.String("dsn", "", "Database DSN (PostgreSQL URL or SQLite file path)")
	fs.String("path", "./migrations", "Path to migrations directory")
	fs.String("kind", "sql", "Migration kind: sql|go")
	fs.Int64("lock_key", 7243392, "Advisory lock key (postgres)")
	fs.String("schema_table", "schema_migrations", "Schema table name")
	fs.String("state_file", "", "Keep the applied set in this YAML file instead of the database")
	fs.String("log_level", "info", "Log level: debug|info|warn|error")
	fs.String("log_format", "text", "Log format: text|json")
}

// loadConfig also installs the configured logger as the process default.
func loadConfig(flags *pflag.FlagSet) (cfg.Config, error) {
	c, err := cfg.Load(flags, cfgFile)
	if err != nil {
		return cfg.Config{}, err
	}
	logging.SetDefault(logging.FromConfig(c.LogLevel, c.LogFormat))
	return c, nil
}

func cmdCreate(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load(flags, cfgFile)
			if err != nil {
				// create does not touch the database, so a missing DSN is fine here.
				c = cfg.Default()
				if p, ferr := flags.GetString("path"); ferr == nil && p != "" {
					c.Path = p
				}
				if k, ferr := flags.GetString("kind"); ferr == nil && k != "" {
					c.Kind = k
				}
			}
			var path string
			if c.Kind == cfg.KindGo {
				path, err = createGoTemplate(c.Path, args[0], time.Now())
			} else {
				path, err = createSQLTemplate(c.Path, args[0], time.Now())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

// runReport prints whatever ran before returning the batch error.
func runReport(w io.Writer, rep pub.Report, err error) error {
	for _, line := range rep.Lines() {
		fmt.Fprintln(w, line)
	}
	if err == nil && len(rep) == 0 {
		fmt.Fprintln(w, "Nothing to do")
	}
	return err
}

func cmdUp(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		rep, err := pub.RunUp(cmd.Context(), c)
		return runReport(cmd.OutOrStdout(), rep, err)
	}}
}

func cmdDown(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "down", Short: "Rollback the last migration", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		rep, err := pub.RunDown(cmd.Context(), c)
		return runReport(cmd.OutOrStdout(), rep, err)
	}}
}

func cmdDownTo(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "down-to <version>",
		Short: "Rollback every migration above version (0 rolls back everything)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || target < 0 {
				return fmt.Errorf("invalid target version %q", args[0])
			}
			c, err := loadConfig(flags)
			if err != nil {
				return err
			}
			rep, err := pub.RunDownTo(cmd.Context(), c, target)
			return runReport(cmd.OutOrStdout(), rep, err)
		},
	}
}

func cmdRedo(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "redo", Short: "Redo the last migration (down+up)", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		rep, err := pub.RunRedo(cmd.Context(), c)
		return runReport(cmd.OutOrStdout(), rep, err)
	}}
}

func cmdPending(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "pending", Short: "List migrations that up would apply", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		ms, err := pub.Pending(cmd.Context(), c)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, m := range ms {
			fmt.Fprintf(w, "%d\t%s\n", m.Version, m.Name)
		}
		return nil
	}}
}

func cmdStatus(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "status", Short: "Show migration status table", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		rows, err := pub.Status(cmd.Context(), c)
		if err != nil {
			return err
		}
		return writeStatus(cmd.OutOrStdout(), rows)
	}}
}

func writeStatus(out io.Writer, rows []pub.StatusRow) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tAPPLIED_AT\tVERSION\tNAME")
	for _, r := range rows {
		at := "-"
		if !r.AppliedAt.IsZero() {
			at = r.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.State, at, r.Version, r.Name)
	}
	return w.Flush()
}

func cmdDBVersion(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{Use: "dbversion", Short: "Print the last applied version", RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flags)
		if err != nil {
			return err
		}
		v, err := pub.DBVersion(cmd.Context(), c)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}}
}

func createSQLTemplate(dir, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%d_%s.sql", now.UnixMilli(), sanitizeName(name))
	full := filepath.Join(dir, file)
	content := "-- +migrate Up\n\n\n-- +migrate Down\n"
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return full, nil
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else if r == ' ' || r == '.' || r == '/' || r == '\\' {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "migration"
	}
	return string(out)
}

const goTemplate = `package migrations

import (
	"context"

	lib "gomigrator/pkg/migrator"
)

func init() {
	if err := lib.Register(%[1]d, %[2]q, up%[1]d, down%[1]d); err != nil {
		panic(err)
	}
}

func up%[1]d(ctx context.Context, x lib.Execer) error {
	return x.Exec(ctx, "SELECT 1")
}

func down%[1]d(ctx context.Context, x lib.Execer) error {
	return x.Exec(ctx, "SELECT 1")
}
`

// createGoTemplate writes a Go migration that registers itself on import.
func createGoTemplate(dir, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := now.UnixMilli()
	clean := sanitizeName(name)
	full := filepath.Join(dir, fmt.Sprintf("%d_%s.go", ts, clean))
	content := fmt.Sprintf(goTemplate, ts, clean)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return full, nil
}
