// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx so every query helper
// can run standalone or inside a transaction.
type Querier interface {
	sqlx.ExtContext
}

// Store wraps the Postgres connection pool and owns all SQL in the module.
type Store struct {
	db     *sqlx.DB
	log    *zap.Logger
	counts *countCache
}

// Open connects to Postgres and verifies the connection. The DSN is a
// standard postgres:// URL.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, logger), nil
}

// NewStore wraps an existing pool. Open is the normal path; this
// constructor serves tests that inject a mock driver.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		log:    logger.Named("catalog"),
		counts: newCountCache(),
	}
}

// Migrate applies all pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.log.Info("migrations applied")
	return nil
}

// MigrationStatus returns the current and latest known migration versions.
func (s *Store) MigrationStatus(ctx context.Context) (current, latest int64, err error) {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, 0, err
	}
	current, err = goose.GetDBVersionContext(ctx, s.db.DB)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration version: %w", err)
	}
	migs, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err != nil {
		return 0, 0, fmt.Errorf("collect migrations: %w", err)
	}
	if len(migs) > 0 {
		latest = migs[len(migs)-1].Version
	}
	return current, latest, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB exposes the raw handle for packages that manage their own statements
// (the job queue's claim loop).
func (s *Store) DB() *sqlx.DB { return s.db }

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// newID returns a fresh UUID string for a primary key.
func newID() string { return uuid.NewString() }

// isUniqueViolation reports whether err is a Postgres unique violation,
// optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// notFound converts sql.ErrNoRows into the module's not-found error and
// wraps anything else with context.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return cerrors.E(cerrors.KindNotFound, what+" not found", err)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
