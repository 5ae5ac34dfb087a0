// Package database provides the relational store client and schema migration.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/parleyhq/parley/pkg/models"
)

// Config holds database configuration.
type Config struct {
	// ConnectionString is either a postgres DSN/URL or a sqlite file path
	// (optionally prefixed "sqlite://"). Empty means in-memory sqlite.
	ConnectionString string

	// Connection pool settings (postgres only).
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps the gorm handle and the underlying connection pool.
type Client struct {
	gorm *gorm.DB
	db   *stdsql.DB
}

// Gorm returns the gorm handle for store-layer queries.
func (c *Client) Gorm() *gorm.DB { return c.gorm }

// DB returns the underlying database connection for health checks.
func (c *Client) DB() *stdsql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens the database, configures pooling, verifies connectivity,
// and applies schema migration.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dialector, err := dialectorFor(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{gorm: gdb, db: db}
	if err := client.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return client, nil
}

// migrate applies the schema for all persisted entities. AutoMigrate is
// additive: it creates missing tables, columns, and indexes but never drops.
func (c *Client) migrate(ctx context.Context) error {
	start := time.Now()
	err := c.gorm.WithContext(ctx).AutoMigrate(
		&models.Session{},
		&models.Message{},
		&models.FeedbackRound{},
		&models.ConfiguredModel{},
		&models.UserSettings{},
	)
	if err != nil {
		return err
	}
	slog.Info("Schema migration complete", "duration", time.Since(start))
	return nil
}

// dialectorFor selects the gorm dialector from the connection string shape.
func dialectorFor(conn string) (gorm.Dialector, error) {
	switch {
	case conn == "" || conn == ":memory:":
		return sqlite.Open("file::memory:?cache=shared&_foreign_keys=on"), nil
	case strings.HasPrefix(conn, "sqlite://"):
		return sqlite.Open(sqliteDSN(strings.TrimPrefix(conn, "sqlite://"))), nil
	case strings.HasPrefix(conn, "postgres://"),
		strings.HasPrefix(conn, "postgresql://"),
		strings.Contains(conn, "host="):
		return postgres.Open(conn), nil
	case strings.HasSuffix(conn, ".db") || strings.HasSuffix(conn, ".sqlite"):
		return sqlite.Open(sqliteDSN(conn)), nil
	default:
		return nil, fmt.Errorf("unrecognized connection string %q", redact(conn))
	}
}

// sqliteDSN enables foreign key enforcement so session deletes cascade to
// messages and feedback rounds, matching the postgres behavior.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

// redact hides credential-bearing parts of a DSN in error messages.
func redact(conn string) string {
	if i := strings.Index(conn, "password="); i >= 0 {
		return conn[:i] + "password=***"
	}
	return conn
}
