package routes

import (
	"github.com/gorilla/mux"

	"attune_server/controllers"
	"attune_server/logger"
)

// RegisterSimilarityRoutes sets up the nearest-neighbor query route under
// /api/pinecone.
func RegisterSimilarityRoutes(api *mux.Router, log *logger.Logger, matching controllers.MatchingAPI) {
	controller := controllers.NewSimilarityController(log, matching)

	similarityRouter := api.PathPrefix("/pinecone").Subrouter()
	similarityRouter.HandleFunc("/user/{userId}/similar", controller.GetSimilarUsers).Methods("GET")
}
