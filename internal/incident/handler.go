package incident

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

// Handler provides HTTP handlers for incident management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new incident handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes registers incident routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/incidents", h.HandleList)
	mux.HandleFunc("GET /v1/incidents/{id}", h.HandleGet)
	mux.HandleFunc("POST /v1/incidents/{id}/status", h.HandleStatus)
	mux.HandleFunc("POST /v1/incidents/{id}/reopen", h.HandleReopen)
	mux.HandleFunc("POST /v1/incidents/{id}/timeline", h.HandleTimeline)
	mux.HandleFunc("GET /v1/incidents/stats", h.HandleStats)
}

// HandleList handles GET /v1/incidents requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{}

	if status := q.Get("status"); status != "" {
		s := Status(status)
		if !s.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid_status", "unknown status value")
			return
		}
		filter.Status = &s
	}
	if severity := q.Get("severity"); severity != "" {
		s := schema.EventSeverity(severity)
		if !s.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid_severity", "unknown severity value")
			return
		}
		filter.Severity = &s
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	incidents := h.manager.List(filter)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"total":     len(incidents),
	})
}

// HandleGet handles GET /v1/incidents/{id} requests. The id path segment
// accepts either the internal UUID or the human-facing code.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")

	var inc *Incident
	var err error
	if id, parseErr := uuid.Parse(idStr); parseErr == nil {
		inc, err = h.manager.Get(id)
	} else {
		inc, err = h.manager.GetByCode(idStr)
	}
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "incident not found")
		return
	}

	h.writeJSON(w, http.StatusOK, inc)
}

type statusRequest struct {
	Status  string `json:"status"`
	Actor   string `json:"actor"`
	Details string `json:"details"`
}

// HandleStatus handles POST /v1/incidents/{id}/status requests.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid incident ID format")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "status and actor fields are required")
		return
	}

	to := Status(req.Status)
	if !to.IsValid() {
		h.writeError(w, http.StatusBadRequest, "invalid_status", "unknown status value")
		return
	}

	inc, err := h.manager.Transition(id, to, req.Actor, req.Details)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "incident not found")
		case errors.Is(err, ErrIllegalTransition):
			h.writeError(w, http.StatusConflict, "illegal_transition",
				"status can only move forward; use reopen for closed incidents")
		default:
			h.writeError(w, http.StatusConflict, "guard_failed", err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, inc)
}

type reopenRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// HandleReopen handles POST /v1/incidents/{id}/reopen requests.
func (h *Handler) HandleReopen(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid incident ID format")
		return
	}

	var req reopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" || req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "actor and reason fields are required")
		return
	}

	inc, err := h.manager.Reopen(id, req.Actor, req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "incident not found")
			return
		}
		h.writeError(w, http.StatusConflict, "reopen_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, inc)
}

type timelineRequest struct {
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	Details string `json:"details"`
}

// HandleTimeline handles POST /v1/incidents/{id}/timeline requests.
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid incident ID format")
		return
	}

	var req timelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" || req.Actor == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "action and actor fields are required")
		return
	}

	inc, err := h.manager.AppendTimeline(id, req.Action, req.Actor, req.Details)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "incident not found")
			return
		}
		h.writeError(w, http.StatusConflict, "append_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, inc)
}

// HandleStats handles GET /v1/incidents/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.Stats())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
