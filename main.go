package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"attune_server/config"
	"attune_server/logger"
	"attune_server/routes"
	"attune_server/rpc"
	"attune_server/services"
	"attune_server/socket"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	defer log.Sync()

	ctx := context.Background()

	dynamoClient, err := services.InitializeDynamoDBClient(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatal("failed to initialize DynamoDB client", "error", err)
	}
	dynamoService := &services.DynamoService{Client: dynamoClient, Log: log}

	limiter := services.NewRateLimiter(cfg.EmbedRatePerInterval, cfg.EmbedRateInterval, cfg.EmbedBurst)
	defer limiter.Stop()

	embeddingService, err := services.NewEmbeddingService(log, limiter, services.EmbeddingConfig{
		Endpoint:      cfg.EmbeddingEndpoint,
		Model:         cfg.EmbeddingModel,
		Dimension:     cfg.EmbeddingDimension,
		MaxConcurrent: cfg.EmbedMaxConcurrent,
	})
	if err != nil {
		log.Fatal("failed to initialize embedding client", "error", err)
	}

	vectorService, err := services.NewVectorService(log, services.VectorConfig{
		APIKey:    cfg.VectorAPIKey,
		IndexName: cfg.VectorIndexName,
		IndexHost: cfg.VectorIndexHost,
		Namespace: cfg.VectorNamespace,
	})
	if err != nil {
		log.Fatal("failed to initialize vector store", "error", err)
	}
	if cfg.VectorIndexName != "" {
		if err := vectorService.ValidateDimension(ctx, cfg.EmbeddingDimension); err != nil {
			log.Fatal("vector index incompatible with embedding model", "error", err)
		}
	}

	statusService := services.NewMatchingStatusService(log, dynamoService, cfg.MatchingStatusTable)

	signer := rpc.NewSigner(cfg.RPCSharedSecret, rpc.DefaultMaxSkew)
	rpcClient := rpc.NewClient(log, cfg.RealtimeBaseURL, signer, cfg.RPCTimeout, cfg.RPCRetryAttempts)

	matchingService := services.NewMatchingService(log, embeddingService, vectorService, statusService, rpcClient)

	if cfg.NotifySocketEndpoint != "" {
		channel := socket.NewNotificationChannel(log, cfg.NotifySocketEndpoint, signer, cfg.NotifyDedupCapacity, cfg.NotifyDedupTTL)
		channel.Start(ctx)
		defer channel.Close()
		events := channel.Subscribe()
		go func() {
			for n := range events {
				log.Info("match notification delivered", "cycleId", n.CycleID, "partnerId", n.PartnerID)
			}
		}()
	}

	r := mux.NewRouter()

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to Attune")
	}).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}).Methods("GET")

	// Everything under /api arrives through the signed bridge and must carry
	// a valid HMAC signature.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(rpc.VerifyMiddleware(log, signer))

	routes.RegisterEmbeddingRoutes(api, log, matchingService)
	routes.RegisterSimilarityRoutes(api, log, matchingService)
	routes.RegisterMatchCycleRoutes(api, log, matchingService)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Timestamp"},
		AllowCredentials: true,
	}).Handler(r)

	log.Info("starting server", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, corsHandler); err != nil {
		log.Fatal("server exited", "error", err)
	}
}
