package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/engine"
)

// CycleHandler exposes the control loop's trigger endpoints.
type CycleHandler struct {
	orch   *engine.Orchestrator
	logger *slog.Logger
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(orch *engine.Orchestrator, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{orch: orch, logger: logger}
}

// TriggerCycle enqueues one out-of-band control cycle. The cycle runs on the
// loop goroutine; this endpoint only requests it.
// POST /api/cycle/trigger
func (h *CycleHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "control loop is not running in this mode")
		return
	}
	logHandler(h.logger, "cycle").InfoContext(r.Context(), "manual cycle trigger requested")
	h.orch.TriggerCycle()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "cycle trigger enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// emergencyRequest optionally carries operator-supplied context for the
// forced assessment.
type emergencyRequest struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// TriggerEmergency queues a critical operator signal and forces an immediate
// cycle so the assessment sees it.
// POST /api/emergency/trigger
func (h *CycleHandler) TriggerEmergency(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "control loop is not running in this mode")
		return
	}
	log := logHandler(h.logger, "cycle")

	var req emergencyRequest
	if r.Body != nil {
		// Body is optional; decode errors fall back to a bare signal.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Source == "" {
		req.Source = "operator"
	}
	if req.Title == "" {
		req.Title = "manual emergency trigger"
	}

	log.WarnContext(r.Context(), "emergency analysis trigger requested",
		slog.String("source", req.Source),
		slog.String("title", req.Title),
	)

	h.orch.TriggerEmergencyAnalysis([]domain.ContextSignal{{
		ID:        uuid.New().String(),
		Source:    req.Source,
		Severity:  domain.SeverityCritical,
		Title:     req.Title,
		Detail:    req.Detail,
		CreatedAt: time.Now().UTC(),
	}})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "emergency analysis enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
