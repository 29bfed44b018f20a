package gatekeeper

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Handler provides HTTP handlers for the action queue.
type Handler struct {
	gate *Gatekeeper
}

// NewHandler creates a new action handler.
func NewHandler(gate *Gatekeeper) *Handler {
	return &Handler{gate: gate}
}

// RegisterRoutes registers action routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/actions", h.HandleList)
	mux.HandleFunc("GET /v1/actions/{id}", h.HandleGet)
	mux.HandleFunc("POST /v1/actions/{id}/approval", h.HandleApproval)
	mux.HandleFunc("POST /v1/actions/{id}/resubmit", h.HandleResubmit)
	mux.HandleFunc("GET /v1/actions/stats", h.HandleStats)
}

// HandleList handles GET /v1/actions requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{}

	if status := q.Get("status"); status != "" {
		s := ActionStatus(status)
		filter.Status = &s
	}
	if incident := q.Get("incident_id"); incident != "" {
		id, err := uuid.Parse(incident)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid incident ID format")
			return
		}
		filter.IncidentID = &id
	}
	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	actions := h.gate.List(filter)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"total":   len(actions),
	})
}

// HandleGet handles GET /v1/actions/{id} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid action ID format")
		return
	}

	action, err := h.gate.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "action not found")
		return
	}

	h.writeJSON(w, http.StatusOK, action)
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
	Approver string `json:"approver"`
}

// HandleApproval handles POST /v1/actions/{id}/approval requests.
func (h *Handler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid action ID format")
		return
	}

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approver == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "approved and approver fields are required")
		return
	}

	action, err := h.gate.SubmitApproval(id, req.Approved, req.Reason, req.Approver, time.Now().UTC())
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, action)
}

// HandleResubmit handles POST /v1/actions/{id}/resubmit requests.
func (h *Handler) HandleResubmit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "invalid action ID format")
		return
	}

	action, err := h.gate.Resubmit(id)
	if err != nil {
		h.writeError(w, http.StatusConflict, "resubmit_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, action)
}

// HandleStats handles GET /v1/actions/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.gate.Stats())
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
