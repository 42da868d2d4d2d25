package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hylla/bomcat/internal/adapters/storage/sqlstore"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// dsnPragmas are applied to every connection opened by the driver.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Repository is the embedded single-file repository.
type Repository struct {
	*sqlstore.Store
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return open("file:" + path + "?" + dsnPragmas)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	return open("file:" + uuid.NewString() + "?mode=memory&cache=shared&" + dsnPragmas)
}

// open connects, pins a single writer connection and migrates.
func open(dsn string) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{Store: sqlstore.New(db, Dialect())}, nil
}

// Dialect returns the sqlite flavour of the shared store. One connection serializes writers, so tree locks are no-ops.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:               "sqlite",
		IsSequenceConflict: isSequenceConflict,
	}
}

// migrate applies the schema idempotently.
func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_nodes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			depth_level INTEGER NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			rag_people TEXT NOT NULL DEFAULT 'neutral',
			rag_process TEXT NOT NULL DEFAULT 'neutral',
			rag_system TEXT NOT NULL DEFAULT 'neutral',
			rag_data TEXT NOT NULL DEFAULT 'neutral',
			last_reviewed_at TEXT,
			reviewed_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT,
			CHECK (depth_level BETWEEN 0 AND 5)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_process_nodes_active_code
			ON process_nodes(tenant_id, code) WHERE archived_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_process_nodes_tenant_parent ON process_nodes(tenant_id, parent_id, position);`,
		`CREATE TABLE IF NOT EXISTS issues (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			dimension TEXT NOT NULL,
			criticality TEXT NOT NULL,
			status TEXT NOT NULL,
			process_id TEXT NOT NULL,
			process_code TEXT NOT NULL,
			process_name TEXT NOT NULL,
			process_depth INTEGER NOT NULL,
			assignee_id TEXT NOT NULL DEFAULT '',
			raised_by TEXT NOT NULL,
			raised_at TEXT NOT NULL,
			target_resolution_at TEXT,
			resolved_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (tenant_id, sequence_number),
			FOREIGN KEY(process_id) REFERENCES process_nodes(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issues_tenant_process ON issues(tenant_id, process_id, status);`,
		`CREATE TABLE IF NOT EXISTS issue_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			issue_id TEXT NOT NULL,
			field TEXT NOT NULL,
			old_value TEXT NOT NULL DEFAULT '',
			new_value TEXT NOT NULL DEFAULT '',
			changed_by TEXT NOT NULL,
			changed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issue_history_issue ON issue_history(tenant_id, issue_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// isSequenceConflict reports whether err came from the issues (tenant_id, sequence_number) UNIQUE constraint.
func isSequenceConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: issues.tenant_id, issues.sequence_number")
}
