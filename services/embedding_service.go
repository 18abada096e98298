package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"attune_server/logger"
)

const embeddingScope = "https://www.googleapis.com/auth/cloud-platform"

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	Endpoint      string
	Model         string
	Dimension     int
	MaxConcurrent int
	Timeout       time.Duration

	// TokenSource overrides the default credential resolution when set.
	// Tests and non-GCP deployments inject one here.
	TokenSource oauth2.TokenSource
}

// EmbeddingService turns trait text into fixed-dimension float vectors. Every
// call passes through the shared rate limiter before touching the provider,
// and batch calls bound their in-flight concurrency against the provider's
// quota.
type EmbeddingService struct {
	Limiter *RateLimiter
	Log     *logger.Logger

	cfg  EmbeddingConfig
	http *http.Client

	tokenOnce sync.Once
	tokenSrc  oauth2.TokenSource
	tokenErr  error
}

// NewEmbeddingService builds the provider client. Dimension must match the
// model's output; it is validated on every response.
func NewEmbeddingService(log *logger.Logger, limiter *RateLimiter, cfg EmbeddingConfig) (*EmbeddingService, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("missing embedding endpoint")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("missing embedding model")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmbeddingService{
		Limiter: limiter,
		Log:     log.With("service", "EmbeddingService"),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embedInstance struct {
	Content string `json:"content"`
}

type embedRequest struct {
	Instances []embedInstance `json:"instances"`
}

type embedResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// Embed converts a single text into a vector. Blocks on the rate limiter
// first, so the provider never sees more than the configured request rate.
func (es *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("embedding text cannot be empty")
	}
	if err := es.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	token, err := es.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(es.cfg.Endpoint, "/") + "/models/" + es.cfg.Model + ":predict"
	body, err := json.Marshal(embedRequest{Instances: []embedInstance{{Content: text}}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := es.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: "predict", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Op: "predict", Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProviderError{Op: "predict", Err: fmt.Errorf("decode: %w", err)}
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0].Embeddings.Values) == 0 {
		return nil, &ProviderError{Op: "predict", Err: fmt.Errorf("response contained no embedding values")}
	}
	values := out.Predictions[0].Embeddings.Values
	if len(values) != es.cfg.Dimension {
		return nil, &ProviderError{
			Op:  "predict",
			Err: fmt.Errorf("dimension mismatch: got %d, want %d", len(values), es.cfg.Dimension),
		}
	}
	return values, nil
}

// EmbedBatch embeds texts preserving input order. The batch is partitioned
// into chunks of at most MaxConcurrent; chunks run sequentially and the calls
// within a chunk run concurrently, which is the backpressure mechanism against
// the provider's concurrency quota. The first failed item fails the whole
// batch.
func (es *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, NewValidationError("embedding batch cannot be empty")
	}

	results := make([][]float32, len(texts))
	chunkSize := es.cfg.MaxConcurrent
	if chunkSize > len(texts) {
		chunkSize = len(texts)
	}

	for start := 0; start < len(texts); start += chunkSize {
		end := start + chunkSize
		if end > len(texts) {
			end = len(texts)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				vec, err := es.Embed(gctx, texts[i])
				if err != nil {
					return err
				}
				results[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Dimension reports the configured vector dimension.
func (es *EmbeddingService) Dimension() int { return es.cfg.Dimension }

// accessToken resolves a bearer token for the provider. Resolution order:
// service-account credentials from the environment (inline JSON or file path),
// then the instance metadata server when on GCE. The token source is built
// once and reused; it refreshes tokens internally as they expire.
func (es *EmbeddingService) accessToken(ctx context.Context) (string, error) {
	es.tokenOnce.Do(func() {
		if es.cfg.TokenSource != nil {
			es.tokenSrc = es.cfg.TokenSource
			return
		}
		es.tokenSrc, es.tokenErr = buildTokenSource(ctx)
	})
	if es.tokenErr != nil {
		return "", es.tokenErr
	}
	tok, err := es.tokenSrc.Token()
	if err != nil {
		return "", fmt.Errorf("failed to mint provider token: %w", err)
	}
	return tok.AccessToken, nil
}

func buildTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		if path := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read credentials file: %w", err)
			}
			creds = string(data)
		}
	}
	if creds != "" {
		c, err := google.CredentialsFromJSON(ctx, []byte(creds), embeddingScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service-account credentials: %w", err)
		}
		return c.TokenSource, nil
	}
	if metadata.OnGCE() {
		return google.ComputeTokenSource("", embeddingScope), nil
	}
	return nil, ErrAuthUnavailable
}
