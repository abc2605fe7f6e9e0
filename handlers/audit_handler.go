package handlers

import (
	"context"
	"net/http"

	"github.com/arcoportus/portal/middleware"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/services/audit"
	"github.com/arcoportus/portal/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuditQuerier is the read side of the audit log
type AuditQuerier interface {
	List(ctx context.Context, params audit.ListParams) (*audit.Page, error)
	Stats(ctx context.Context, params audit.ListParams) (*audit.Summary, error)
	Get(ctx context.Context, id string) (*models.AuditEvent, error)
}

// AuditHandler handles the /audit endpoints
type AuditHandler struct {
	query  AuditQuerier
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(query AuditQuerier, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		query:  query,
		logger: logger,
	}
}

// HandleList handles GET /audit
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	page, err := h.query.List(ctx, listParams(r))
	if err != nil {
		h.logger.Warn("failed to list audit events",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed audit events",
		zap.String("request_id", requestID),
		zap.Int("count", len(page.Data)),
		zap.Int64("total", page.Pagination.Total))

	_ = utils.WriteOK(w, page)
}

// HandleStats handles GET /audit/stats
func (h *AuditHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.query.Stats(r.Context(), listParams(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, summary)
}

// HandleGet handles GET /audit/{id}
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	event, err := h.query.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, event)
}

// listParams reads the filter query string. The actor filter is accepted as
// "usuario" (the portal's name for it) or "actor".
func listParams(r *http.Request) audit.ListParams {
	q := r.URL.Query()
	actor := q.Get("usuario")
	if actor == "" {
		actor = q.Get("actor")
	}
	return audit.ListParams{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Severity:  q.Get("severity"),
		Actor:     actor,
		Page:      q.Get("page"),
		PageSize:  q.Get("pageSize"),
	}
}
