package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"attune_server/logger"
	"attune_server/models"
)

// MatchingAPI is the orchestrator surface the HTTP layer depends on.
type MatchingAPI interface {
	OptIn(ctx context.Context, userID string, traits []string, forceRefresh bool) (models.MatchingStatusView, error)
	OptOut(ctx context.Context, userID string) (models.MatchingStatusView, error)
	GetStatus(ctx context.Context, userID string) (models.MatchingStatusView, error)
	FindSimilar(ctx context.Context, userID string, topK int, includeVectors bool) ([]models.SimilarUser, error)
	CompleteCycle(ctx context.Context, cycleID string, pairs []models.MatchPair, unmatched []string) (string, error)
}

// EmbeddingController handles the opt-in/opt-out/status endpoints.
type EmbeddingController struct {
	Matching MatchingAPI
	Log      *logger.Logger
}

// NewEmbeddingController creates a new EmbeddingController instance.
func NewEmbeddingController(log *logger.Logger, matching MatchingAPI) *EmbeddingController {
	return &EmbeddingController{Matching: matching, Log: log.With("controller", "EmbeddingController")}
}

type optInRequest struct {
	Traits       []string `json:"traits,omitempty"`
	ForceRefresh bool     `json:"forceRefresh,omitempty"`
}

// OptIn handles POST /api/embedding/user/{userId}/opt-in.
func (ec *EmbeddingController) OptIn(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "userId is required"})
		return
	}

	var req optInRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "unreadable request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "malformed request body"})
			return
		}
	}

	status, err := ec.Matching.OptIn(r.Context(), userID, req.Traits, req.ForceRefresh)
	if err != nil {
		writeError(w, ec.Log, "opt-in", err)
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(status))
}

// OptOut handles POST /api/embedding/user/{userId}/opt-out.
func (ec *EmbeddingController) OptOut(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "userId is required"})
		return
	}

	status, err := ec.Matching.OptOut(r.Context(), userID)
	if err != nil {
		writeError(w, ec.Log, "opt-out", err)
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(status))
}

// GetStatus handles GET /api/embedding/user/{userId}/status.
func (ec *EmbeddingController) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "userId is required"})
		return
	}

	status, err := ec.Matching.GetStatus(r.Context(), userID)
	if err != nil {
		writeError(w, ec.Log, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"matchingStatus": status,
	})
}
