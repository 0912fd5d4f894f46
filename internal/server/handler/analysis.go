package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayush101098/nexxore/internal/domain"
)

// AnalysisHandler serves risk analyses: the live latest and the audit trail.
type AnalysisHandler struct {
	store     domain.AnalysisStore
	publisher domain.RiskPublisher
	logger    *slog.Logger
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(store domain.AnalysisStore, publisher domain.RiskPublisher, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{store: store, publisher: publisher, logger: logger}
}

// GetLatest responds with the most recently published analysis.
// GET /api/risk/latest
func (h *AnalysisHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	a, err := h.publisher.LatestAnalysis(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no analysis published yet")
		return
	}
	if err != nil {
		logHandler(h.logger, "analysis").ErrorContext(r.Context(), "latest analysis lookup failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "latest analysis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListRecent responds with the newest analyses from the audit trail.
// GET /api/analyses/recent
func (h *AnalysisHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	analyses, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		logHandler(h.logger, "analysis").ErrorContext(r.Context(), "list analyses failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list analyses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
	})
}
