// Package postgres provides the multi-instance repository backed by PostgreSQL with row-level tenant isolation.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hylla/bomcat/internal/adapters/storage/sqlstore"
)

// uniqueViolation is the SQLSTATE raised by unique constraints.
const uniqueViolation = "23505"

// sequenceConstraint names the per-tenant issue sequence constraint in 0002_issues.
const sequenceConstraint = "issues_tenant_sequence_key"

// Repository is the PostgreSQL repository.
type Repository struct {
	*sqlstore.Store
}

// Open connects to databaseURL, verifies connectivity and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("postgres database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{Store: sqlstore.New(db, Dialect())}, nil
}

// Dialect returns the PostgreSQL flavour of the shared store.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:               "postgres",
		Numbered:           true,
		ScopeTenant:        scopeTenant,
		LockTree:           lockTree,
		RowLockSuffix:      " FOR UPDATE",
		IsSequenceConflict: isSequenceConflict,
	}
}

// scopeTenant binds the row-level security policies to tenantID for the current transaction.
func scopeTenant(ctx context.Context, tx *sql.Tx, tenantID string) error {
	_, err := tx.ExecContext(ctx, `SELECT set_config('app.current_tenant', $1, true)`, tenantID)
	return err
}

// lockTree takes a transaction-scoped advisory lock keyed by tenant.
func lockTree(ctx context.Context, tx *sql.Tx, tenantID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "bomcat:tree:"+tenantID); err != nil {
		return fmt.Errorf("lock tenant tree: %w", err)
	}
	return nil
}

// isSequenceConflict reports whether err is a SQLSTATE 23505 on the issue sequence constraint.
func isSequenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == sequenceConstraint
}
