package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const auditColumns = `id, action, module, target, details, severity,
		       actor_id, actor_name, actor_role, tenant_id, tenant_name, created_at`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

// Insert inserts a new audit event
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, action, module, target, details, severity,
			actor_id, actor_name, actor_role, tenant_id, tenant_name, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Action,
		event.Module,
		event.Target,
		event.Details,
		string(event.Severity),
		event.ActorID,
		event.ActorName,
		event.ActorRole,
		event.TenantID,
		event.TenantName,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event inserted",
		zap.String("id", event.ID.String()),
		zap.String("action", event.Action))
	return nil
}

// GetByID retrieves an audit event by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE id = $1`

	event, err := scanAuditEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit event %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return event, nil
}

// List returns one page of matching events, newest first, and the total number of matches.
// Both statements read the same snapshot so the total agrees with the page.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int64, error) {
	where, args := buildAuditWhere(filter)

	var (
		events []*models.AuditEvent
		total  int64
	)
	err := inReadSnapshot(ctx, r.db, func(exec Executor) error {
		countQuery := `SELECT COUNT(*) FROM audit_events` + where
		if err := exec.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count audit events: %w", err)
		}
		if total == 0 {
			return nil
		}

		pageArgs := append(append([]interface{}{}, args...), limit, offset)
		listQuery := fmt.Sprintf(`SELECT %s FROM audit_events%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			auditColumns, where, len(args)+1, len(args)+2)

		var err error
		events, err = queryAuditEvents(ctx, exec, listQuery, pageArgs...)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	return events, total, nil
}

// CountBySeverity returns the number of matching events grouped by severity.
// Every known severity is present in the result, with zero when absent.
func (r *AuditRepository) CountBySeverity(ctx context.Context, filter models.AuditFilter) (models.SeverityCounts, error) {
	where, args := buildAuditWhere(filter)
	query := `SELECT severity, COUNT(*) FROM audit_events` + where + ` GROUP BY severity`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events by severity: %w", err)
	}
	defer rows.Close()

	counts := models.SeverityCounts{}
	for _, s := range models.Severities {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			severity string
			n        int64
		)
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[models.Severity(severity)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating severity counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan removes every event with created_at strictly before cutoff
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return deleted, nil
}

// buildAuditWhere renders filter as a WHERE clause with positional arguments
func buildAuditWhere(filter models.AuditFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Start != nil {
		add("created_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("created_at < $%d", *filter.End)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		add(`actor_name ILIKE $%d ESCAPE '\'`, "%"+escapeLike(actor)+"%")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	event := &models.AuditEvent{}
	var severity string
	err := row.Scan(
		&event.ID,
		&event.Action,
		&event.Module,
		&event.Target,
		&event.Details,
		&severity,
		&event.ActorID,
		&event.ActorName,
		&event.ActorRole,
		&event.TenantID,
		&event.TenantName,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Severity = models.Severity(severity)
	return event, nil
}

// queryAuditEvents is a helper method to query multiple audit events
func queryAuditEvents(ctx context.Context, exec Executor, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}
