package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"attune_server/logger"
	"attune_server/models"
	"attune_server/services"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps internal errors onto the wire contract: validation problems
// are 400, everything else is a 500 with a generic message. Provider-internal
// error text is logged but never surfaced to end users.
func writeError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   ve.Msg,
		})
		return
	}
	if errors.Is(err, services.ErrNotSeeking) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   services.ErrNotSeeking.Error(),
		})
		return
	}
	log.Error("request failed", "operation", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   "internal error",
	})
}

// statusPayload flattens a status view into a response map with success=true.
func statusPayload(view models.MatchingStatusView) map[string]interface{} {
	raw, _ := json.Marshal(view)
	payload := map[string]interface{}{}
	_ = json.Unmarshal(raw, &payload)
	payload["success"] = true
	return payload
}
