package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/models"
)

func userIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// handleUpsertUser handles POST /v1/users. The front end calls this on every
// interaction so display fields stay fresh; tier is never touched here.
func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        int64   `json:"id"`
		Username  *string `json:"username,omitempty"`
		FirstName *string `json:"firstName,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.ID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "id is required")
		return
	}

	user := &models.User{
		ID:        req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		Tier:      models.TierFree,
	}
	if err := s.mgmt.Users.Upsert(r.Context(), user); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("failed to upsert user")
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleGetUser handles GET /v1/users/{id}, returning the account plus its
// current quota usage.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user id must be a positive integer")
		return
	}

	user, err := s.mgmt.Users.Get(r.Context(), userID)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	tier := user.EffectiveTier(time.Now())
	limits := s.mgmt.Quotas.LimitsFor(tier)
	used, err := s.mgmt.Quotas.CallsUsed(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("failed to read call usage")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": user,
		"quota": map[string]interface{}{
			"tier":           tier,
			"callsUsedToday": used,
			"maxCallsPerDay": limits.MaxCallsPerDay,
			"maxWallets":     limits.MaxWallets,
			"maxAlerts":      limits.MaxAlerts,
		},
	})
}

// handleSetTier handles PUT /v1/users/{id}/tier.
func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user id must be a positive integer")
		return
	}

	var req struct {
		Tier     models.UserTier `json:"tier"`
		ExpiryAt *time.Time      `json:"expiryAt,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}
	if req.Tier != models.TierFree && req.Tier != models.TierPremium {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "tier must be free or premium")
		return
	}

	if err := s.mgmt.Users.SetTier(r.Context(), userID, req.Tier, req.ExpiryAt); err != nil {
		respondMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tier": req.Tier})
}
