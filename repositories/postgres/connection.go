package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/config"
)

const (
	connectTimeout     = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
)

const booksSchema = `
CREATE TABLE IF NOT EXISTS books (
	id             UUID PRIMARY KEY,
	title          VARCHAR(255) NOT NULL,
	author         VARCHAR(255) NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	published_date DATE,
	created_by     VARCHAR(255) NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (title, author)
);
CREATE INDEX IF NOT EXISTS idx_books_author ON books (author);
`

// DB is the lib/pq connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens a pool sized from cfg and fails unless the server answers a
// ping within connectTimeout.
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	pool, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", cfg.LogString(), err)
	}

	logger.Info("connected to postgres", zap.String("connection", cfg.LogString()))
	return WrapDB(pool, logger), nil
}

// WrapDB adopts an already open pool
func WrapDB(pool *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: pool, logger: logger}
}

func (db *DB) Close() error {
	db.logger.Info("closing postgres pool")
	return db.DB.Close()
}

// HealthCheck reports whether the pool can reach the server
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres query failed: %w", err)
	}
	return nil
}

// InitSchema creates the books table and its indexes when missing
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, booksSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
