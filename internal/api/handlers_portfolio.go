package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/alert-engine/internal/models"
)

// handleCreatePortfolio handles POST /v1/portfolios.
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      int64   `json:"userId"`
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.UserID <= 0 || req.Name == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "userId and name are required")
		return
	}

	portfolio := &models.Portfolio{
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.mgmt.Portfolios.Create(r.Context(), portfolio); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, portfolio)
}

// handleListPortfolios handles GET /v1/users/{id}/portfolios.
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user id must be a positive integer")
		return
	}

	portfolios, err := s.mgmt.Portfolios.ListByUser(r.Context(), userID)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"portfolios": portfolios, "count": len(portfolios)})
}

// handleDeletePortfolio handles DELETE /v1/portfolios/{id}.
func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.Portfolios.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddPortfolioWallet handles POST /v1/portfolios/{id}/wallets. The link
// is chain-scoped: the same wallet can sit in one portfolio on several chains.
func (s *Server) handleAddPortfolioWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"walletId"`
		Chain    string `json:"chain"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.WalletID == "" || req.Chain == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "walletId and chain are required")
		return
	}

	link := &models.PortfolioWallet{
		PortfolioID: mux.Vars(r)["id"],
		WalletID:    req.WalletID,
		Chain:       req.Chain,
	}
	if err := s.mgmt.Portfolios.AddWallet(r.Context(), link); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// handleRemovePortfolioWallet handles
// DELETE /v1/portfolios/{id}/wallets/{walletId}?chain=<chain>.
func (s *Server) handleRemovePortfolioWallet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chain := r.URL.Query().Get("chain")
	if chain == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "chain query parameter is required")
		return
	}

	if err := s.mgmt.Portfolios.RemoveWallet(r.Context(), vars["id"], vars["walletId"], chain); err != nil {
		respondMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePortfolioHistory handles GET /v1/portfolios/{id}/history?since=<RFC3339>.
// Snapshots accrue as a side effect of portfolio value alert evaluation.
func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	snapshots, err := s.mgmt.Snapshots.History(r.Context(), mux.Vars(r)["id"], since)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snapshots, "count": len(snapshots)})
}
