package alerts

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler provides HTTP handlers for the notification surface.
type Handler struct {
	center *Center
}

// NewHandler creates a new notification handler.
func NewHandler(center *Center) *Handler {
	return &Handler{center: center}
}

// RegisterRoutes registers notification routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/notifications", h.HandleList)
	mux.HandleFunc("POST /v1/notifications/read-all", h.HandleMarkAllRead)
	mux.HandleFunc("POST /v1/notifications/{id}/read", h.HandleMarkRead)
	mux.HandleFunc("POST /v1/notifications/{id}/dismiss", h.HandleDismiss)
	mux.HandleFunc("GET /v1/notifications/stats", h.HandleStats)
}

// HandleList handles GET /v1/notifications requests.
func (h *Handler) HandleList(w http.ResponseWriter, _ *http.Request) {
	open := h.center.Open()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": open,
		"total":         len(open),
	})
}

// HandleMarkRead handles POST /v1/notifications/{id}/read requests.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.center.MarkRead(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "notification not open")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// HandleMarkAllRead handles POST /v1/notifications/read-all requests.
func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, _ *http.Request) {
	n := h.center.MarkAllRead()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "read",
		"marked": n,
	})
}

// HandleDismiss handles POST /v1/notifications/{id}/dismiss requests.
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.center.Dismiss(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "notification not open")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// HandleStats handles GET /v1/notifications/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.center.Stats())
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
