// Package config loads gomigrator settings from flags, environment and a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	KindSQL = "sql"
	KindGo  = "go"
)

// Config holds the application configuration.
type Config struct {
	Driver      string `mapstructure:"driver"` // postgres|sqlite
	DSN         string `mapstructure:"dsn"`
	Path        string `mapstructure:"path"`
	Kind        string `mapstructure:"kind"` // sql|go
	LockKey     int64  `mapstructure:"lock_key"`
	SchemaTable string `mapstructure:"schema_table"`
	// StateFile moves the applied set out of the database into a YAML file.
	StateFile string `mapstructure:"state_file"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text|json
}

func Default() Config {
	return Config{
		Driver:      DriverPostgres,
		Path:        "./migrations",
		Kind:        KindSQL,
		LockKey:     7243392,
		SchemaTable: "schema_migrations",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load merges defaults, the config file, GOMIGRATOR_* environment variables and flags, in increasing priority.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GOMIGRATOR")
	v.AutomaticEnv()

	def := Default()
	_ = v.MergeConfigMap(map[string]any{
		"driver":       def.Driver,
		"dsn":          def.DSN,
		"path":         def.Path,
		"kind":         def.Kind,
		"lock_key":     def.LockKey,
		"schema_table": def.SchemaTable,
		"state_file":   def.StateFile,
		"log_level":    def.LogLevel,
		"log_format":   def.LogFormat,
	})

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := readAndExpandFile(v, configFile); err != nil {
			return Config{}, err
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := tryReadAndExpand(v); err != nil {
			return Config{}, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	if err := c.normalize(def); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) normalize(def Config) error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required (env GOMIGRATOR_DSN or config dsn)")
	}
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "", "pg", "postgresql":
		c.Driver = DriverPostgres
	case DriverPostgres, DriverSQLite:
	case "sqlite3":
		c.Driver = DriverSQLite
	default:
		return fmt.Errorf("unknown driver %q (want postgres or sqlite)", c.Driver)
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if !filepath.IsAbs(c.Path) {
		if p, err := filepath.Abs(c.Path); err == nil {
			c.Path = p
		}
	}
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind != KindSQL && c.Kind != KindGo {
		c.Kind = def.Kind
	}
	if c.SchemaTable == "" {
		c.SchemaTable = def.SchemaTable
	}
	if c.LockKey == 0 {
		c.LockKey = def.LockKey
	}
	if c.StateFile != "" && !filepath.IsAbs(c.StateFile) {
		if p, err := filepath.Abs(c.StateFile); err == nil {
			c.StateFile = p
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	return nil
}

func readAndExpandFile(v *viper.Viper, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(b))
	return v.MergeConfig(strings.NewReader(expanded))
}

// tryReadAndExpand reads ./config.yaml when present; a missing file is fine.
func tryReadAndExpand(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	path := v.ConfigFileUsed()
	if path == "" {
		return nil
	}
	return readAndExpandFile(v, path)
}
