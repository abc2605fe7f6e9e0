package audit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/repositories"
	"github.com/arcoportus/portal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 1_000_000 // keeps (page-1)*pageSize well inside a Postgres OFFSET
	dateLayout      = "2006-01-02"
)

// ListParams are the raw query-string values of an audit listing request
type ListParams struct {
	StartDate string
	EndDate   string
	Severity  string
	Actor     string
	Page      string
	PageSize  string
}

// Pagination describes the slice of results returned
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// Page is one page of audit events
type Page struct {
	Data       []*models.AuditEvent `json:"data"`
	Pagination Pagination           `json:"pagination"`
}

// Summary holds event counts for the dashboard
type Summary struct {
	Total      int64                     `json:"total"`
	BySeverity map[models.Severity]int64 `json:"bySeverity"`
}

// QueryService serves the read side of the audit log
type QueryService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewQueryService creates a new audit query service
func NewQueryService(repo repositories.AuditRepository, logger *zap.Logger) *QueryService {
	return &QueryService{repo: repo, logger: logger}
}

// List returns the requested page of events matching params, newest first
func (s *QueryService) List(ctx context.Context, params ListParams) (*Page, error) {
	filter, err := ParseFilter(params)
	if err != nil {
		return nil, err
	}
	page, pageSize, err := ParsePagination(params.Page, params.PageSize)
	if err != nil {
		return nil, err
	}

	events, total, err := s.repo.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, services.ErrDatabaseError.Wrap(err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return &Page{
		Data: events,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// Stats counts events per severity. Only the date bounds of params apply.
func (s *QueryService) Stats(ctx context.Context, params ListParams) (*Summary, error) {
	filter, err := ParseFilter(ListParams{StartDate: params.StartDate, EndDate: params.EndDate})
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.CountBySeverity(ctx, filter)
	if err != nil {
		return nil, services.ErrDatabaseError.Wrap(err)
	}

	bySeverity := make(map[models.Severity]int64, len(models.Severities))
	for _, sev := range models.Severities {
		bySeverity[sev] = counts[sev]
	}
	return &Summary{Total: counts.Total(), BySeverity: bySeverity}, nil
}

// Get returns a single event
func (s *QueryService) Get(ctx context.Context, rawID string) (*models.AuditEvent, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, services.ErrInvalidInput.WithDetail("id", "must be a UUID")
	}

	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAuditEventNotFound
		}
		return nil, services.ErrDatabaseError.Wrap(err)
	}
	return event, nil
}

// ParseFilter validates the filter parameters. Dates are YYYY-MM-DD (UTC) or RFC3339;
// a date-only end bound covers the whole day.
func ParseFilter(params ListParams) (models.AuditFilter, error) {
	var filter models.AuditFilter

	if v := strings.TrimSpace(params.StartDate); v != "" {
		start, _, err := parseDate(v)
		if err != nil {
			return filter, services.ErrInvalidFilter.WithDetail("startDate", "expected YYYY-MM-DD or RFC3339")
		}
		filter.Start = &start
	}

	if v := strings.TrimSpace(params.EndDate); v != "" {
		end, dateOnly, err := parseDate(v)
		if err != nil {
			return filter, services.ErrInvalidFilter.WithDetail("endDate", "expected YYYY-MM-DD or RFC3339")
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1)
		}
		filter.End = &end
	}

	if filter.Start != nil && filter.End != nil && !filter.Start.Before(*filter.End) {
		return filter, services.ErrInvalidFilter.WithDetail("endDate", "must be after startDate")
	}

	if v := strings.TrimSpace(params.Severity); v != "" {
		sev, err := models.ParseSeverity(v)
		if err != nil {
			return filter, services.ErrInvalidFilter.WithDetail("severity", "expected BAIXA, MEDIA or ALTA")
		}
		filter.Severity = sev
	}

	filter.Actor = strings.TrimSpace(params.Actor)
	return filter, nil
}

// ParsePagination applies defaults and bounds. Page sizes above MaxPageSize are clamped;
// pages above MaxPage are rejected.
func ParsePagination(rawPage, rawPageSize string) (int, int, error) {
	page, pageSize := 1, DefaultPageSize

	if v := strings.TrimSpace(rawPage); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, services.ErrInvalidFilter.WithDetail("page", "must be a positive integer")
		}
		if n > MaxPage {
			return 0, 0, services.ErrInvalidFilter.WithDetail("page", "must be at most 1000000")
		}
		page = n
	}

	if v := strings.TrimSpace(rawPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, services.ErrInvalidFilter.WithDetail("pageSize", "must be a positive integer")
		}
		pageSize = n
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(dateLayout, v, time.UTC); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
