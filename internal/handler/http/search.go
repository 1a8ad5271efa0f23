package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/service"
	"github.com/utafrali/catalogsync/pkg/httputil"
	"github.com/utafrali/catalogsync/pkg/pagination"
)

// SearchHandler serves the storefront read path over the index the sync
// engine maintains.
type SearchHandler struct {
	orchestrator *service.Orchestrator
	logger       *slog.Logger
}

// NewSearchHandler creates a new search HTTP handler.
func NewSearchHandler(orchestrator *service.Orchestrator, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{orchestrator: orchestrator, logger: logger}
}

// Search handles GET /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sortBy := q.Get("sort")
	if sortBy != "" && !domain.IsValidSort(sortBy) {
		httputil.WriteBadParameter(w, "sort must be one of: "+strings.Join(domain.ValidSortOptions(), ", "))
		return
	}

	page := pagination.FromRequest(r)
	query := &domain.SearchQuery{
		Query:   strings.TrimSpace(q.Get("q")),
		SortBy:  sortBy,
		Page:    page.Page,
		PerPage: page.PerPage,
	}

	for param, dst := range map[string]**string{
		"team":     &query.Team,
		"season":   &query.Season,
		"type":     &query.Type,
		"category": &query.Category,
		"size":     &query.Size,
	} {
		if v := strings.TrimSpace(q.Get(param)); v != "" {
			*dst = &v
		}
	}

	var ok bool
	if query.MinPrice, ok = parsePrice(w, q.Get("min_price"), "min_price"); !ok {
		return
	}
	if query.MaxPrice, ok = parsePrice(w, q.Get("max_price"), "max_price"); !ok {
		return
	}
	if query.MinPrice != nil && query.MaxPrice != nil && *query.MinPrice > *query.MaxPrice {
		httputil.WriteBadParameter(w, "min_price must not exceed max_price")
		return
	}

	result, err := h.orchestrator.Search(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// parsePrice reads an optional non-negative price in minor units. It writes
// the 400 itself and returns false on bad input.
func parsePrice(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.WriteBadParameter(w, name+" must be a valid number")
		return nil, false
	}
	if v < 0 {
		httputil.WriteBadParameter(w, name+" must not be negative")
		return nil, false
	}
	return &v, true
}
