package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_shares",
		SQL: `
			CREATE TABLE IF NOT EXISTS shares (
				share_code            CHAR(5)      PRIMARY KEY,
				blob_key              TEXT         NOT NULL,
				file_name             VARCHAR(255) NOT NULL,
				file_size             BIGINT       NOT NULL,
				mime_type             VARCHAR(255) NOT NULL,
				created_at            TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				expires_at            TIMESTAMPTZ  NOT NULL,
				is_password_protected BOOLEAN      NOT NULL DEFAULT FALSE,
				password_hash         VARCHAR(255),
				encryption_key        VARCHAR(64),
				downloads_count       INTEGER      NOT NULL DEFAULT 0,
				CONSTRAINT shares_protection_consistent CHECK (
					(is_password_protected AND password_hash IS NOT NULL AND encryption_key IS NOT NULL)
					OR (NOT is_password_protected AND password_hash IS NULL AND encryption_key IS NULL)
				)
			);
			CREATE INDEX IF NOT EXISTS idx_shares_expires_at ON shares(expires_at);
			CREATE INDEX IF NOT EXISTS idx_shares_created_at ON shares(created_at);
		`,
	},
}

const (
	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`
	selectMigrationApplied = "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)"
	insertMigration        = "INSERT INTO schema_migrations (version) VALUES ($1)"
)

const connectTimeout = 10 * time.Second

// DB holds the metadata connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool of at most maxConns connections and pings it.
func New(ctx context.Context, databaseURL string, maxConns int32) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata database unreachable: %w", err)
	}

	slog.Info("connected to metadata database",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order,
// each inside its own transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := db.Pool.QueryRow(ctx, selectMigrationApplied, m.Version).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if applied {
			continue
		}

		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			if _, err := tx.Exec(ctx, insertMigration, m.Version); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck pings the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.Pool.Close()
}
