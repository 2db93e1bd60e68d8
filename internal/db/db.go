package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/s3paste/internal/utils"
)

const memoryPath = ":memory:"

// Durability matters more than throughput for the upload queue: WAL with full sync.
const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=FULL;
PRAGMA busy_timeout=5000;
PRAGMA temp_store=MEMORY;
`

type driver struct {
	id   string
	name string
}

// Driver names the sqlite implementation compiled into the binary
func Driver() string {
	return sqlite.id
}

type config struct {
	path            string
	pragmas         string
	maxOpenConns    int
	connMaxLifetime time.Duration
}

// Option configures Open
type Option func(*config)

// WithPath sets the database file. ":memory:" keeps it in memory.
func WithPath(path string) Option {
	return func(c *config) {
		c.path = path
	}
}

// WithPragmas replaces the default pragmas
func WithPragmas(pragmas string) Option {
	return func(c *config) {
		c.pragmas = pragmas
	}
}

func WithMaxOpenConns(n int) Option {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		c.connMaxLifetime = d
	}
}

// Open connects to a SQLite database and applies the pragmas.
// In-memory databases are pinned to a single connection so every query sees the same data.
func Open(opts ...Option) (*sqlx.DB, error) {
	cfg := &config{
		path:    memoryPath,
		pragmas: defaultPragma,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path != memoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	} else {
		cfg.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", sqlite.id, "path", cfg.path)
	db, err := sqlx.Connect(sqlite.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxOpenConns)
	}
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	if cfg.pragmas != "" {
		if _, err := db.Exec(cfg.pragmas); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	}

	return db, nil
}
