package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/redback/pkg/audit"
	"github.com/platinummonkey/redback/pkg/httputil"
)

// AuditHandlers serves the RBAC change trail
type AuditHandlers struct {
	searcher audit.Searcher
}

// NewAuditHandlers creates audit handlers over searcher
func NewAuditHandlers(searcher audit.Searcher) *AuditHandlers {
	return &AuditHandlers{searcher: searcher}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rbac/audit", h.SearchEvents).Methods("GET")
}

// SearchEvents lists audit events. Query parameters: type (comma separated),
// resource_type, resource, since and until (RFC 3339), limit and offset.
func (h *AuditHandlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		ResourceType: audit.ResourceType(q.Get("resource_type")),
		ResourceName: q.Get("resource"),
	}
	for _, t := range httputil.QueryList(r, "type") {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
	}

	for key, dest := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid "+key+": expected RFC 3339 timestamp")
			return
		}
		*dest = &ts
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "invalid "+key)
			return
		}
		*dest = n
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, events)
}
