package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alert-engine/internal/evaluate"
	"github.com/alert-engine/internal/models"
)

// handleCreateAlert handles POST /v1/alerts. Conditions are parsed against
// the kind's shape here so a malformed payload is rejected at creation rather
// than discovered tick after tick.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID          int64            `json:"userId"`
		Kind            models.AlertKind `json:"kind"`
		Conditions      json.RawMessage  `json:"conditions"`
		PortfolioID     *string          `json:"portfolioId,omitempty"`
		WalletID        *string          `json:"walletId,omitempty"`
		TrackedWalletID *string          `json:"trackedWalletId,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "userId, kind and conditions are required")
		return
	}

	target, err := models.TargetFromRefs(req.Kind, req.PortfolioID, req.WalletID, req.TrackedWalletID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if err := validateConditions(req.Kind, req.Conditions); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_CONDITION", err.Error())
		return
	}

	alert := &models.Alert{
		UserID:     req.UserID,
		Kind:       req.Kind,
		Conditions: req.Conditions,
		Target:     target,
		IsActive:   true,
	}
	if err := s.mgmt.Quotas.CreateAlert(r.Context(), alert); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func validateConditions(kind models.AlertKind, conditions json.RawMessage) error {
	switch kind {
	case models.KindPrice:
		_, err := evaluate.ParsePriceCondition(conditions)
		return err
	case models.KindPortfolioValue:
		_, err := evaluate.ParsePortfolioValueCondition(conditions)
		return err
	case models.KindWalletTx, models.KindTrackedWalletTx:
		_, err := evaluate.ParseTxCondition(conditions)
		return err
	default:
		return fmt.Errorf("unknown alert kind: %s", kind)
	}
}

// handleGetAlert handles GET /v1/alerts/{id}.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.mgmt.Alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleListAlerts handles GET /v1/users/{id}/alerts.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user id must be a positive integer")
		return
	}

	alerts, err := s.mgmt.Alerts.ListByUser(r.Context(), userID)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

// handleSetAlertActive handles PUT /v1/alerts/{id}/active. Reactivating a
// fired one-shot alert arms it for another crossing.
func (s *Server) handleSetAlertActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	if err := s.mgmt.Alerts.SetActive(r.Context(), mux.Vars(r)["id"], req.Active); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"isActive": req.Active})
}

// handleDeleteAlert handles DELETE /v1/alerts/{id}.
func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.Alerts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
