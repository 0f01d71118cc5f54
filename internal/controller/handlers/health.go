package handlers

import (
	"net/http"

	"docplane/pkg/api"
)

// Healthz answers as long as the process serves HTTP. It never touches the
// database, so a database outage does not get the controller restarted.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz fails while the database is unreachable and otherwise reports how
// many processes the engine holds for re-queueing.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("Readiness check failed", "error", err)
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, api.ReadinessResponse{
		Status:            "ready",
		RequeuedProcesses: h.engine.QueueDepth(),
	})
}
