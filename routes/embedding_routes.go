package routes

import (
	"github.com/gorilla/mux"

	"attune_server/controllers"
	"attune_server/logger"
)

// RegisterEmbeddingRoutes sets up opt-in/opt-out/status routes under
// /api/embedding.
func RegisterEmbeddingRoutes(api *mux.Router, log *logger.Logger, matching controllers.MatchingAPI) {
	controller := controllers.NewEmbeddingController(log, matching)

	embeddingRouter := api.PathPrefix("/embedding").Subrouter()
	embeddingRouter.HandleFunc("/user/{userId}/opt-in", controller.OptIn).Methods("POST")
	embeddingRouter.HandleFunc("/user/{userId}/opt-out", controller.OptOut).Methods("POST")
	embeddingRouter.HandleFunc("/user/{userId}/status", controller.GetStatus).Methods("GET")
}
