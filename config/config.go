// Package config loads collabd settings. Defaults are overridden by an
// optional YAML file, then COLLAB_* environment variables, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends accepted in Store.Backend.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config is the top-level server configuration.
type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Log             LogConfig     `yaml:"log"`
	Store           StoreConfig   `yaml:"store"`
	Session         SessionConfig `yaml:"session"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// FlushInterval > 0 puts a write-behind cache in front of the backend.
	FlushInterval time.Duration `yaml:"flush_interval"`

	SQLitePath          string `yaml:"sqlite_path"`
	RedisURL            string `yaml:"redis_url"`
	PostgresURL         string `yaml:"postgres_url"`
	FirestoreProject    string `yaml:"firestore_project"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

// SessionConfig tunes per-document sessions.
type SessionConfig struct {
	// HistoryLimit is the number of operations kept in memory per document.
	// Clients further behind resync from the store.
	HistoryLimit int     `yaml:"history_limit"`
	OpsPerSecond float64 `yaml:"ops_per_second"`
	OpsBurst     int     `yaml:"ops_burst"`
	MaxMessage   int64   `yaml:"max_message_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Log:             LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend:             BackendMemory,
			SQLitePath:          "collab.db",
			FirestoreCollection: "documents",
		},
		Session: SessionConfig{
			HistoryLimit: 1000,
			OpsPerSecond: 50,
			OpsBurst:     100,
			MaxMessage:   64 * 1024,
		},
	}
}

// Load builds the configuration from args (without the program name) and
// the environment looked up through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("collabd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", getenv("COLLAB_CONFIG"), "path to YAML config file")
	addr := fs.String("addr", cfg.Addr, "HTTP listen address")
	backend := fs.String("store", cfg.Store.Backend, "document store: memory, sqlite, redis, postgres, firestore")
	level := fs.String("log-level", cfg.Log.Level, "log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "store":
			cfg.Store.Backend = *backend
		case "log-level":
			cfg.Log.Level = *level
		}
	})

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"COLLAB_ADDR":                 &c.Addr,
		"COLLAB_LOG_LEVEL":            &c.Log.Level,
		"COLLAB_LOG_FORMAT":           &c.Log.Format,
		"COLLAB_STORE":                &c.Store.Backend,
		"COLLAB_SQLITE_PATH":          &c.Store.SQLitePath,
		"COLLAB_REDIS_URL":            &c.Store.RedisURL,
		"COLLAB_DATABASE_URL":         &c.Store.PostgresURL,
		"COLLAB_FIRESTORE_PROJECT":    &c.Store.FirestoreProject,
		"COLLAB_FIRESTORE_COLLECTION": &c.Store.FirestoreCollection,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := getenv("COLLAB_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COLLAB_FLUSH_INTERVAL: %w", err)
		}
		c.Store.FlushInterval = d
	}
	if v := getenv("COLLAB_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COLLAB_HISTORY_LIMIT: %w", err)
		}
		c.Session.HistoryLimit = n
	}
	if v := getenv("COLLAB_OPS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("COLLAB_OPS_PER_SECOND: %w", err)
		}
		c.Session.OpsPerSecond = f
	}
	return nil
}

// Validate checks that the selected backend is configured and values are sane.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: use text or json", c.Log.Format))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres backend"))
		}
	case BackendFirestore:
		if c.Store.FirestoreProject == "" {
			errs = append(errs, errors.New("store.firestore_project is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", c.Store.Backend))
	}
	if c.Store.FlushInterval < 0 {
		errs = append(errs, errors.New("store.flush_interval must be >= 0"))
	}

	if c.Session.HistoryLimit < 0 {
		errs = append(errs, errors.New("session.history_limit must be >= 0"))
	}
	if c.Session.OpsPerSecond <= 0 || c.Session.OpsBurst <= 0 {
		errs = append(errs, errors.New("session.ops_per_second and session.ops_burst must be > 0"))
	}
	if c.Session.MaxMessage <= 0 {
		errs = append(errs, errors.New("session.max_message_bytes must be > 0"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: use debug, info, warn or error", s)
}
