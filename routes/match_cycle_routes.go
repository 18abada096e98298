package routes

import (
	"github.com/gorilla/mux"

	"attune_server/controllers"
	"attune_server/logger"
)

// RegisterMatchCycleRoutes sets up the cycle-completion route under
// /api/matches.
func RegisterMatchCycleRoutes(api *mux.Router, log *logger.Logger, matching controllers.MatchingAPI) {
	controller := controllers.NewMatchCycleController(log, matching)

	matchRouter := api.PathPrefix("/matches").Subrouter()
	matchRouter.HandleFunc("/cycle-complete", controller.CompleteCycle).Methods("POST")
}
