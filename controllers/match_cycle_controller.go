package controllers

import (
	"encoding/json"
	"net/http"

	"attune_server/logger"
	"attune_server/models"
)

// MatchCycleController receives matching-cycle outcomes from the external
// cycle runner through the signed bridge.
type MatchCycleController struct {
	Matching MatchingAPI
	Log      *logger.Logger
}

// NewMatchCycleController creates a new MatchCycleController instance.
func NewMatchCycleController(log *logger.Logger, matching MatchingAPI) *MatchCycleController {
	return &MatchCycleController{Matching: matching, Log: log.With("controller", "MatchCycleController")}
}

type cycleCompleteRequest struct {
	CycleID          string             `json:"cycleId,omitempty"`
	Pairs            []models.MatchPair `json:"pairs"`
	UnmatchedUserIDs []string           `json:"unmatchedUserIds,omitempty"`
}

// CompleteCycle handles POST /api/matches/cycle-complete.
func (mc *MatchCycleController) CompleteCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "malformed request body"})
		return
	}

	cycleID, err := mc.Matching.CompleteCycle(r.Context(), req.CycleID, req.Pairs, req.UnmatchedUserIDs)
	if err != nil {
		writeError(w, mc.Log, "cycle-complete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"cycleId": cycleID,
	})
}
