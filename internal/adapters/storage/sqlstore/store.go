// Package sqlstore implements the tenant-scoped repository over database/sql for every supported dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hylla/bomcat/internal/app"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1, $2, ... before execution.
	Numbered bool
	// ScopeTenant runs once per transaction before any statement, typically to bind row-level security.
	ScopeTenant func(ctx context.Context, tx *sql.Tx, tenantID string) error
	// LockTree takes a transaction-scoped lock over the tenant tree.
	LockTree func(ctx context.Context, tx *sql.Tx, tenantID string) error
	// RowLockSuffix is appended to the single-row process lookup used by LockProcess.
	RowLockSuffix string
	// IsSequenceConflict reports whether err came from the (tenant_id, sequence_number) unique constraint.
	IsSequenceConflict func(err error) bool
}

// Store implements app.Repository over one *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New constructs a store for db speaking dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTenant runs fn inside one transaction scoped to tenantID.
func (s *Store) WithTenant(ctx context.Context, tenantID string, fn func(app.TenantRepository) error) (err error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return app.ErrInvalidTenant
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", s.dialect.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.dialect.ScopeTenant != nil {
		if err = s.dialect.ScopeTenant(ctx, tx, tenantID); err != nil {
			return fmt.Errorf("scope tenant: %w", err)
		}
	}
	if err = fn(&tenantTx{tx: tx, dialect: s.dialect, tenantID: tenantID}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", s.dialect.Name, err)
	}
	return nil
}

// tenantTx implements app.TenantRepository inside one open transaction.
type tenantTx struct {
	tx       *sql.Tx
	dialect  Dialect
	tenantID string
}

// TenantID returns the bound tenant.
func (t *tenantTx) TenantID() string {
	return t.tenantID
}

// LockTree serializes structural mutations through the dialect lock.
func (t *tenantTx) LockTree(ctx context.Context) error {
	if t.dialect.LockTree == nil {
		return nil
	}
	return t.dialect.LockTree(ctx, t.tx, t.tenantID)
}

// LockProcess locks one process row, reporting ErrNotFound when it does not exist.
func (t *tenantTx) LockProcess(ctx context.Context, id string) error {
	var one int
	query := `SELECT 1 FROM process_nodes WHERE tenant_id = ? AND id = ?` + t.dialect.RowLockSuffix
	err := t.queryRow(ctx, query, t.tenantID, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	return err
}

// exec runs a write statement after placeholder rewriting.
func (t *tenantTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, rebind(query, t.dialect.Numbered), args...)
}

// query runs a read statement after placeholder rewriting.
func (t *tenantTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, rebind(query, t.dialect.Numbered), args...)
}

// queryRow runs a single-row read after placeholder rewriting.
func (t *tenantTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, rebind(query, t.dialect.Numbered), args...)
}

// rebind rewrites ? placeholders into $n form when numbered is set.
func rebind(query string, numbered bool) string {
	if !numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// placeholders returns n comma-separated ? markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// translateNoRows maps an update that touched nothing to ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}
