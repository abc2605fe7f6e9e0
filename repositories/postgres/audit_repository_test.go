package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var auditRowColumns = []string{
	"id", "action", "module", "target", "details", "severity",
	"actor_id", "actor_name", "actor_role", "tenant_id", "tenant_name", "created_at",
}

func newMockAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditRepository(Wrap(db, zap.NewNop()), zap.NewNop()), mock
}

func sampleEvent() *models.AuditEvent {
	return &models.AuditEvent{
		ID:         uuid.New(),
		Action:     models.ActionLogin,
		Module:     models.ModuleAuth,
		Target:     models.TargetNone,
		Details:    "Login realizado",
		Severity:   models.SeverityLow,
		ActorID:    "user-1",
		ActorName:  "Maria Souza",
		ActorRole:  "ADMIN",
		TenantID:   "tenant-1",
		TenantName: "Porto Central",
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func addEventRow(rows *sqlmock.Rows, e *models.AuditEvent) *sqlmock.Rows {
	return rows.AddRow(e.ID.String(), e.Action, e.Module, e.Target, e.Details, string(e.Severity),
		e.ActorID, e.ActorName, e.ActorRole, e.TenantID, e.TenantName, e.CreatedAt)
}

func TestAuditRepository_Insert(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	event := sampleEvent()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(event.ID, event.Action, event.Module, event.Target, event.Details, "BAIXA",
			event.ActorID, event.ActorName, event.ActorRole, event.TenantID, event.TenantName, event.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_Insert_Error(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit event")
}

func TestAuditRepository_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := newMockAuditRepo(t)
		event := sampleEvent()

		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE id = $1")).
			WithArgs(event.ID).
			WillReturnRows(addEventRow(sqlmock.NewRows(auditRowColumns), event))

		got, err := repo.GetByID(context.Background(), event.ID)
		require.NoError(t, err)
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, models.SeverityLow, got.Severity)
		assert.Equal(t, "Porto Central", got.TenantName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockAuditRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(auditRowColumns))

		_, err := repo.GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestAuditRepository_List(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	filter := models.AuditFilter{Start: &start, End: &end, Severity: models.SeverityHigh, Actor: "mar_ia"}

	first, second := sampleEvent(), sampleEvent()
	second.CreatedAt = first.CreatedAt.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_events WHERE created_at >= $1 AND created_at < $2 AND severity = $3 AND actor_name ILIKE $4`)).
		WithArgs(start, end, "ALTA", `%mar\_ia%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC LIMIT $5 OFFSET $6`)).
		WithArgs(start, end, "ALTA", `%mar\_ia%`, 2, 4).
		WillReturnRows(addEventRow(addEventRow(sqlmock.NewRows(auditRowColumns), first), second))
	mock.ExpectCommit()

	events, total, err := repo.List(context.Background(), filter, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_List_Empty(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	events, total, err := repo.List(context.Background(), models.AuditFilter{}, 20, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_List_RollsBackOnError(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_events`)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, _, err := repo.List(context.Background(), models.AuditFilter{}, 20, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to count audit events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_CountBySeverity(t *testing.T) {
	repo, mock := newMockAuditRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT severity, COUNT(*) FROM audit_events GROUP BY severity`)).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).
			AddRow("BAIXA", 10).
			AddRow("ALTA", 2))

	counts, err := repo.CountBySeverity(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts[models.SeverityLow])
	assert.Equal(t, int64(0), counts[models.SeverityMedium])
	assert.Equal(t, int64(2), counts[models.SeverityHigh])
	assert.Equal(t, int64(12), counts.Total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_DeleteOlderThan(t *testing.T) {
	repo, mock := newMockAuditRepo(t)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_events WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildAuditWhere(t *testing.T) {
	where, args := buildAuditWhere(models.AuditFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildAuditWhere(models.AuditFilter{Actor: "  50%  "})
	assert.Equal(t, ` WHERE actor_name ILIKE $1 ESCAPE '\'`, where)
	assert.Equal(t, []interface{}{`%50\%%`}, args)
}
