package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/bomcat/internal/app"
	"github.com/hylla/bomcat/internal/domain"
)

func TestUpMigrationsHaveDownPairs(t *testing.T) {
	versions, err := upMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.True(t, strings.HasPrefix(versions[0], "0001_"), "first migration is %s", versions[0])
	for _, version := range versions {
		down := strings.TrimSuffix(version, ".up.sql") + ".down.sql"
		_, err := migrationFiles.ReadFile("migrations/" + down)
		assert.NoError(t, err, "missing down migration for %s", version)
	}
}

func TestIsSequenceConflict(t *testing.T) {
	assert.True(t, isSequenceConflict(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505", ConstraintName: "issues_tenant_sequence_key"})))
	assert.False(t, isSequenceConflict(&pgconn.PgError{Code: "23505", ConstraintName: "issues_pkey"}))
	assert.False(t, isSequenceConflict(&pgconn.PgError{Code: "23503", ConstraintName: "issues_tenant_sequence_key"}))
	assert.False(t, isSequenceConflict(errors.New("UNIQUE constraint failed: issues.tenant_id, issues.sequence_number")))
}

// openTestRepository connects to BOMCAT_TEST_POSTGRES_URL on a fresh schema.
func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("BOMCAT_TEST_POSTGRES_URL"))
	if dsn == "" {
		t.Skip("BOMCAT_TEST_POSTGRES_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepositoryServiceRoundTrip(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{})

	root, err := svc.InsertNode(ctx, "t1", app.InsertNodeInput{Name: "Plan"})
	require.NoError(t, err)
	child, err := svc.InsertNode(ctx, "t1", app.InsertNodeInput{ParentID: root.ID, Name: "Budget"})
	require.NoError(t, err)
	zero := 0
	front, err := svc.InsertNode(ctx, "t1", app.InsertNodeInput{ParentID: root.ID, Name: "Forecast", Position: &zero})
	require.NoError(t, err)
	assert.Equal(t, "1.1", front.Code)

	shifted, err := svc.GetNode(ctx, "t1", child.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.2", shifted.Code)

	issue, err := svc.CreateIssue(ctx, "t1", app.CreateIssueInput{
		ProcessID:   shifted.ID,
		Title:       "Budget owner missing",
		Dimension:   domain.DimensionPeople,
		Criticality: domain.CriticalityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), issue.SequenceNumber)

	amber, err := svc.GetNode(ctx, "t1", shifted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RAGAmber, amber.RAG.People)

	_, err = svc.SetExplicitRAG(ctx, "t1", shifted.ID, domain.DimensionPeople, domain.RAGGreen)
	var conflict *domain.OpenIssuesConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{issue.ID}, conflict.OpenIssueIDs)

	_, err = svc.TransitionIssue(ctx, "t1", issue.ID, domain.IssueStatusClosed)
	require.NoError(t, err)
	history, err := svc.ListIssueHistory(ctx, "t1", issue.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.HistoryFieldStatus, history[0].Field)

	count, err := svc.RegenerateCodes(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepositoryRowLevelIsolation(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{})

	node, err := svc.InsertNode(ctx, "t1", app.InsertNodeInput{Name: "Tenant one"})
	require.NoError(t, err)
	_, err = svc.InsertNode(ctx, "t2", app.InsertNodeInput{Name: "Tenant two"})
	require.NoError(t, err)

	_, err = svc.GetNode(ctx, "t2", node.ID)
	assert.ErrorIs(t, err, app.ErrNotFound)

	// Unscoped queries see nothing because the policies are forced on the owner role.
	var bypass bool
	require.NoError(t, repo.DB().QueryRowContext(ctx, `SELECT rolsuper OR rolbypassrls FROM pg_roles WHERE rolname = current_user`).Scan(&bypass))
	if !bypass {
		var visible int
		require.NoError(t, repo.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM process_nodes`).Scan(&visible))
		assert.Zero(t, visible)
	}

	nodes, err := svc.ListNodes(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "1", nodes[0].Code)
}
