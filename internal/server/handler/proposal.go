package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/engine"
)

// ProposalHandler serves rebalance proposals and the approval endpoint.
type ProposalHandler struct {
	store  domain.ProposalStore
	orch   *engine.Orchestrator
	logger *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(store domain.ProposalStore, orch *engine.Orchestrator, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{store: store, orch: orch, logger: logger}
}

// ListRecent responds with the newest proposals.
// GET /api/proposals/recent
func (h *ProposalHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		logHandler(h.logger, "proposal").ErrorContext(r.Context(), "list proposals failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list proposals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": proposals,
		"count":     len(proposals),
	})
}

// GetProposal responds with one proposal by internal ID.
// GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	p, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	if err != nil {
		logHandler(h.logger, "proposal").ErrorContext(r.Context(), "get proposal failed",
			slog.String("proposal_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not load proposal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ExecuteProposal executes a pending_approval proposal. This is the only
// path by which an approval-gated proposal reaches the chain.
// POST /api/proposals/{id}/execute
func (h *ProposalHandler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	log := logHandler(h.logger, "proposal")

	if h.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "control loop is not running in this mode")
		return
	}

	p, err := h.orch.ExecuteApprovedProposal(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	case errors.Is(err, domain.ErrAlreadyExecuted):
		writeError(w, http.StatusConflict, "proposal already executed")
		return
	case errors.Is(err, domain.ErrNotSubmitted):
		writeError(w, http.StatusConflict, "proposal is not awaiting approval")
		return
	case err != nil:
		log.ErrorContext(r.Context(), "proposal execution failed",
			slog.String("proposal_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "proposal execution failed")
		return
	}

	log.InfoContext(r.Context(), "proposal executed via approval",
		slog.String("proposal_id", id), slog.String("tx_hash", p.TxHash))
	writeJSON(w, http.StatusOK, p)
}
