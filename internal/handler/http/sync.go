package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/service"
	"github.com/utafrali/catalogsync/pkg/httputil"
	"github.com/utafrali/catalogsync/pkg/pagination"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// SyncHandler serves the admin sync API.
type SyncHandler struct {
	orchestrator *service.Orchestrator
	reporter     *service.StatusReporter
	logger       *slog.Logger
}

// NewSyncHandler creates a new sync HTTP handler.
func NewSyncHandler(orchestrator *service.Orchestrator, reporter *service.StatusReporter, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		reporter:     reporter,
		logger:       logger,
	}
}

// LogListResponse is the body of GET /api/v1/sync/logs.
type LogListResponse struct {
	Logs   []domain.SyncLog `json:"logs"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// TriggerFull handles POST /api/v1/sync/full
func (h *SyncHandler) TriggerFull(w http.ResponseWriter, r *http.Request) {
	log, err := h.orchestrator.TriggerFull(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: log})
}

// TriggerItem handles POST /api/v1/sync/items/{id}
func (h *SyncHandler) TriggerItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httputil.WriteBadParameter(w, "product id is required")
		return
	}

	log, err := h.orchestrator.TriggerSingle(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: log})
}

// Status handles GET /api/v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	health, err := h.reporter.CurrentStatus(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: health})
}

// ListLogs handles GET /api/v1/sync/logs
func (h *SyncHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	window, err := pagination.WindowFromRequest(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		httputil.WriteBadParameter(w, err.Error())
		return
	}

	filter := domain.SyncLogFilter{Limit: window.Limit, Offset: window.Offset}

	if v := r.URL.Query().Get("kind"); v != "" {
		kind := domain.SyncKind(v)
		if !kind.Valid() {
			httputil.WriteBadParameter(w, "kind must be one of: full, single")
			return
		}
		filter.Kind = kind
	}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status := domain.SyncStatus(strings.TrimSpace(s))
			if !status.Valid() {
				httputil.WriteBadParameter(w, "status must be one of: running, success, failed, partial")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	logs, total, err := h.reporter.ListLogs(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: LogListResponse{
		Logs:   logs,
		Total:  total,
		Limit:  window.Limit,
		Offset: window.Offset,
	}})
}

// GetLog handles GET /api/v1/sync/logs/{id}
func (h *SyncHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	log, err := h.reporter.GetLog(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: log})
}
