// Package postgres opens the experiment history database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/platform/env"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const urlEnv = "DATABASE_URL"

// Config holds the connection string and pool size.
type Config struct {
	URL         string
	PingTimeout time.Duration
	MaxConns    int
	ConnMaxAge  time.Duration
}

// Configured reports whether DATABASE_URL is set. Without it the service keeps
// experiment history in memory.
func Configured() bool {
	return strings.TrimSpace(env.String(urlEnv, "")) != ""
}

func ConfigFromEnv() (Config, error) {
	pingTimeout, err := env.Duration("CARPRICE_DB_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxConns, err := env.Int("CARPRICE_DB_MAX_CONNS", 4)
	if err != nil {
		return Config{}, err
	}
	connMaxAge, err := env.Duration("CARPRICE_DB_CONN_MAX_AGE", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:         strings.TrimSpace(env.String(urlEnv, "")),
		PingTimeout: pingTimeout,
		MaxConns:    maxConns,
		ConnMaxAge:  connMaxAge,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New(urlEnv + " is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max conns must be at least 1: %d", c.MaxConns)
	}
	if c.ConnMaxAge < 0 {
		return errors.New("conn max age must not be negative")
	}
	if _, err := pgx.ParseConfig(c.URL); err != nil {
		return fmt.Errorf("parse %s: %w", urlEnv, err)
	}
	return nil
}

// Target describes the database without credentials, for logs.
func (c Config) Target() string {
	conn, err := pgx.ParseConfig(c.URL)
	if err != nil {
		return "invalid"
	}
	return fmt.Sprintf("%s@%s:%d/%s", conn.User, conn.Host, conn.Port, conn.Database)
}

// Open builds a *sql.DB on the pgx driver and waits for one successful ping.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", urlEnv, err)
	}

	db := stdlib.OpenDB(*conn)
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns((cfg.MaxConns + 1) / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxAge)

	if err := Ping(ctx, db, cfg.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Ping bounds a database ping by timeout. It backs the readiness check.
func Ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping %s: %w", urlEnv, err)
	}
	return nil
}
