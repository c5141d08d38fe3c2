package audit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursegate/pkg/httputil"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// Handlers serves the admin auth log API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers auth log routes on an admin-only router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth-logs", h.listEntries).Methods(http.MethodGet)
	router.HandleFunc("/auth-logs/stats", h.getStats).Methods(http.MethodGet)
}

// listEntries handles GET /admin/auth-logs. format=csv|ndjson downloads
// the page instead of returning the JSON envelope.
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	switch format {
	case ExportFormatCSV, ExportFormatNDJSON:
		data, err := Export(entries, format)
		if err != nil {
			httputil.WriteInternalError(r.Context(), w, err)
			return
		}
		if format == ExportFormatCSV {
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", "attachment; filename=auth-logs.csv")
		} else {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Content-Disposition", "attachment; filename=auth-logs.ndjson")
		}
		_, _ = w.Write(data)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getStats handles GET /admin/auth-logs/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), filter.StartTime, filter.EndTime)
	if err != nil {
		httputil.WriteInternalError(r.Context(), w, err)
		return
	}

	_ = httputil.WriteSuccess(w, stats)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	filter := SearchFilter{
		Identifier: httputil.ParseQueryString(r, "identifier", ""),
	}

	if raw := httputil.ParseQueryString(r, "event_types", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			et, err := ParseEventType(part)
			if err != nil {
				return filter, err
			}
			filter.EventTypes = append(filter.EventTypes, et)
		}
	}

	if raw := httputil.ParseQueryString(r, "user_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("user_id must be a UUID")
		}
		filter.UserID = &id
	}

	start, err := httputil.ParseQueryTime(r, "start_time")
	if err != nil {
		return filter, err
	}
	if !start.IsZero() {
		filter.StartTime = &start
	}
	end, err := httputil.ParseQueryTime(r, "end_time")
	if err != nil {
		return filter, err
	}
	if !end.IsZero() {
		filter.EndTime = &end
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		return filter, err
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	if offset < 0 {
		offset = 0
	}
	filter.Offset = offset

	return filter, nil
}
