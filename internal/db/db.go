// Package db opens the signal store's PostgreSQL pool and applies its
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// Pool sizes the connection pool. Zero fields fall back to the defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var defaultPool = Pool{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}

// Connect opens the pool and pings it once before returning.
func Connect(ctx context.Context, dsn string, p Pool) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	p = configure(db, p)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping %s: %w", sanitizeDSN(dsn), err)
	}

	slog.Info("database connected",
		"dsn_host", sanitizeDSN(dsn),
		"max_open_conns", p.MaxOpenConns,
		"max_idle_conns", p.MaxIdleConns,
	)
	return db, nil
}

// configure applies p to db and returns the settings actually used.
func configure(db *sql.DB, p Pool) Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaultPool.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaultPool.MaxIdleConns
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaultPool.ConnMaxLifetime
	}
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(p.MaxIdleConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	return p
}

// Healthy returns nil when the database answers a ping.
func Healthy(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}

// sanitizeDSN reduces a URL-style DSN to host and database name so
// credentials never reach the logs.
func sanitizeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "unparsed"
	}
	return u.Host + u.Path
}
