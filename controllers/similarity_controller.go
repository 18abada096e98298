package controllers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"attune_server/logger"
)

// SimilarityController handles nearest-neighbor partner queries.
type SimilarityController struct {
	Matching MatchingAPI
	Log      *logger.Logger
}

// NewSimilarityController creates a new SimilarityController instance.
func NewSimilarityController(log *logger.Logger, matching MatchingAPI) *SimilarityController {
	return &SimilarityController{Matching: matching, Log: log.With("controller", "SimilarityController")}
}

// GetSimilarUsers handles GET /api/pinecone/user/{userId}/similar.
func (sc *SimilarityController) GetSimilarUsers(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "userId is required"})
		return
	}

	topK := 10
	if v := r.URL.Query().Get("topK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "topK must be a positive integer"})
			return
		}
		topK = n
	}
	includeVectors := r.URL.Query().Get("includeVectors") == "true"

	similar, err := sc.Matching.FindSimilar(r.Context(), userID, topK, includeVectors)
	if err != nil {
		writeError(w, sc.Log, "find-similar", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"userId":       userID,
		"similarUsers": similar,
		"count":        len(similar),
	})
}
