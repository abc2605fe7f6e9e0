package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/arcoportus/portal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// AuditRepository handles audit event persistence. Events are append-only:
// there is no update operation.
type AuditRepository interface {
	// Insert appends a new audit event
	Insert(ctx context.Context, event *models.AuditEvent) error

	// GetByID retrieves an audit event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error)

	// List returns one page of events matching filter, newest first, plus the total match count
	List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int64, error)

	// CountBySeverity returns the number of matching events per severity
	CountBySeverity(ctx context.Context, filter models.AuditFilter) (models.SeverityCounts, error)

	// DeleteOlderThan removes events created strictly before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories groups every repository the service uses
type Repositories struct {
	AuditEvents AuditRepository
}
