package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/matview-io/matview/internal/config"
)

// postgresDriver is the database/sql driver name registered by lib/pq.
const postgresDriver = "postgres"

// pingTimeout bounds the startup health check.
const pingTimeout = 5 * time.Second

var (
	// ErrConnectionFailed is returned when the database cannot be reached.
	ErrConnectionFailed = errors.New("database connection failed")
)

// Connection wraps the PostgreSQL connection pool shared by the stores
// and the engine. Embedding *sql.DB keeps the full database/sql surface
// available to both.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pooled connection from config and verifies it
// with a bounded ping before handing it out.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(postgresDriver, cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
	}))
	logger.Info("Connected to PostgreSQL",
		slog.String("database_url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns))

	return &Connection{DB: db}, nil
}

// InTransaction reports whether engine statements issued through this
// connection run inside an open transaction. Pool connections hand each
// statement out with no transaction attached, so CONCURRENTLY variants
// are safe.
func (c *Connection) InTransaction() bool {
	return false
}

// Close closes the connection pool gracefully. Safe to call more than once.
func (c *Connection) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}

	return nil
}
