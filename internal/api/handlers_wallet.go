package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alert-engine/internal/models"
)

// handleCreateWallet handles POST /v1/wallets. Creation goes through the
// quota guard so the tier wallet ceiling applies before anything persists.
func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  int64             `json:"userId"`
		Address string            `json:"address"`
		Type    models.WalletType `json:"walletType"`
		Label   *string           `json:"label,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "userId and address are required")
		return
	}

	wallet := &models.Wallet{
		UserID:  req.UserID,
		Address: req.Address,
		Type:    req.Type,
		Label:   req.Label,
	}
	if err := s.mgmt.Quotas.AddWallet(r.Context(), wallet); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

// handleListWallets handles GET /v1/users/{id}/wallets.
func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user id must be a positive integer")
		return
	}

	wallets, err := s.mgmt.Wallets.ListByUser(r.Context(), userID)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets, "count": len(wallets)})
}

// handleDeleteWallet handles DELETE /v1/wallets/{id}. Alerts targeting the
// wallet go with it through the schema's cascade.
func (s *Server) handleDeleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.Wallets.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateTrackedWallet handles POST /v1/tracked-wallets. Tracked wallets
// share the owned-wallet ceiling.
func (s *Server) handleCreateTrackedWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  int64             `json:"userId"`
		Address string            `json:"address"`
		Type    models.WalletType `json:"walletType"`
		Label   *string           `json:"label,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "userId and address are required")
		return
	}

	tracked := &models.TrackedWallet{
		UserID:        req.UserID,
		Address:       req.Address,
		Type:          req.Type,
		Label:         req.Label,
		AlertsEnabled: true,
	}
	if err := s.mgmt.Quotas.AddTrackedWallet(r.Context(), tracked); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tracked)
}

// handleSetTrackedAlerts handles PUT /v1/tracked-wallets/{id}/alerts, the
// per-wallet mute switch for tracked transaction alerts.
func (s *Server) handleSetTrackedAlerts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	if err := s.mgmt.Wallets.SetTrackedAlertsEnabled(r.Context(), mux.Vars(r)["id"], req.Enabled); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alertsEnabled": req.Enabled})
}

// handleDeleteTrackedWallet handles DELETE /v1/tracked-wallets/{id}.
func (s *Server) handleDeleteTrackedWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.Wallets.DeleteTracked(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
