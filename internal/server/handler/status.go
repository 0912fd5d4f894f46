package handler

import (
	"net/http"

	"github.com/ayush101098/nexxore/internal/engine"
)

// StatusHandler serves the control loop's status snapshot.
type StatusHandler struct {
	Mode string
	orch *engine.Orchestrator
}

// NewStatusHandler creates a StatusHandler for the given orchestrator.
func NewStatusHandler(mode string, orch *engine.Orchestrator) *StatusHandler {
	return &StatusHandler{Mode: mode, orch: orch}
}

// GetStatus responds with the loop status of the last completed cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"mode": h.Mode}
	if h.orch != nil {
		body["engine"] = h.orch.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
