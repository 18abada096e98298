package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-sourced setting the server needs. There is
// no CLI surface; deployments configure everything through the environment.
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogMode   string `envconfig:"LOG_MODE" default:"dev"`
	AWSRegion string `envconfig:"AWS_REGION"`

	// Matching status persistence.
	MatchingStatusTable string `envconfig:"MATCHING_STATUS_TABLE" default:"MatchingStatus"`

	// Embedding provider.
	EmbeddingEndpoint  string `envconfig:"EMBEDDING_ENDPOINT"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-005"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`

	// Rate limiting for outbound embedding calls.
	EmbedRatePerInterval int           `envconfig:"EMBED_RATE_PER_INTERVAL" default:"10"`
	EmbedRateInterval    time.Duration `envconfig:"EMBED_RATE_INTERVAL" default:"1s"`
	EmbedBurst           int           `envconfig:"EMBED_BURST" default:"10"`
	EmbedMaxConcurrent   int           `envconfig:"EMBED_MAX_CONCURRENT" default:"4"`

	// Vector store.
	VectorAPIKey    string `envconfig:"VECTOR_API_KEY"`
	VectorIndexName string `envconfig:"VECTOR_INDEX_NAME"`
	VectorIndexHost string `envconfig:"VECTOR_INDEX_HOST"`
	VectorNamespace string `envconfig:"VECTOR_NAMESPACE" default:"trait-matching"`

	// Signed RPC bridge to the real-time backend.
	RPCSharedSecret  string        `envconfig:"RPC_SHARED_SECRET"`
	RPCTimeout       time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
	RPCRetryAttempts int           `envconfig:"RPC_RETRY_ATTEMPTS" default:"3"`
	RealtimeBaseURL  string        `envconfig:"REALTIME_BASE_URL"`

	// Notification channel. When the socket endpoint is set the server also
	// subscribes to the real-time backend and mirrors delivered match events
	// into its logs.
	NotifySocketEndpoint string        `envconfig:"NOTIFY_SOCKET_ENDPOINT"`
	NotifyDedupCapacity  int           `envconfig:"NOTIFY_DEDUP_CAPACITY" default:"512"`
	NotifyDedupTTL       time.Duration `envconfig:"NOTIFY_DEDUP_TTL" default:"24h"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if cfg.RPCSharedSecret == "" {
		return nil, fmt.Errorf("RPC_SHARED_SECRET is required")
	}
	return &cfg, nil
}
