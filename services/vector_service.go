package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attune_server/logger"
	"attune_server/models"
)

// VectorConfig configures the similarity-index adapter.
type VectorConfig struct {
	APIKey     string
	APIVersion string
	BaseURL    string // control plane
	IndexName  string
	IndexHost  string // data plane host; resolved via describe-index when empty
	Namespace  string // tenant isolation boundary, fixed per deployment
	Timeout    time.Duration
}

// Vector is one stored similarity vector with its metadata.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorMatch is one ranked result of a similarity query.
type VectorMatch struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Values   []float32              `json:"values,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorService upserts and queries trait vectors in a namespaced similarity
// index. All operations are scoped to the configured namespace; vectors are
// always written whole, never partially updated.
type VectorService struct {
	Log *logger.Logger

	cfg     VectorConfig
	http    *http.Client
	dataURL string
}

// NewVectorService builds the adapter. IndexHost may be left empty and
// resolved later through ResolveHost.
func NewVectorService(log *logger.Logger, cfg VectorConfig) (*VectorService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing vector store API key")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		return nil, &StoreError{Op: "init", Err: fmt.Errorf("invalid namespace: empty")}
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-01"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	vs := &VectorService{
		Log:  log.With("service", "VectorService"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.IndexHost != "" {
		vs.dataURL = hostURL(cfg.IndexHost)
	}
	return vs, nil
}

func hostURL(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return "https://" + strings.TrimRight(host, "/")
}

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

// ResolveHost looks up the data-plane host through the control plane when it
// was not configured directly, and returns the index description.
func (vs *VectorService) ResolveHost(ctx context.Context) (*indexDescription, error) {
	if strings.TrimSpace(vs.cfg.IndexName) == "" {
		return nil, &StoreError{Op: "describe_index", Err: fmt.Errorf("index name required")}
	}
	u := strings.TrimRight(vs.cfg.BaseURL, "/") + "/indexes/" + vs.cfg.IndexName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	vs.setHeaders(req)

	resp, err := vs.http.Do(req)
	if err != nil {
		return nil, &StoreError{Op: "describe_index", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StoreError{Op: "describe_index", Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}
	var desc indexDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, &StoreError{Op: "describe_index", Err: fmt.Errorf("decode: %w", err)}
	}
	if strings.TrimSpace(desc.Host) == "" {
		return nil, &StoreError{Op: "describe_index", Err: fmt.Errorf("empty host in index description")}
	}
	vs.dataURL = hostURL(desc.Host)
	return &desc, nil
}

// ValidateDimension checks at startup that the index dimension matches the
// embedding provider's output dimension.
func (vs *VectorService) ValidateDimension(ctx context.Context, want int) error {
	desc, err := vs.ResolveHost(ctx)
	if err != nil {
		return err
	}
	if desc.Dimension != want {
		return &StoreError{
			Op:  "describe_index",
			Err: fmt.Errorf("dimension mismatch: index has %d, embedding model produces %d", desc.Dimension, want),
		}
	}
	return nil
}

type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

// Upsert writes or overwrites the vector under the configured namespace and
// stamps metadata.updatedAt.
func (vs *VectorService) Upsert(ctx context.Context, id string, values []float32, metadata map[string]interface{}) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError("vector id cannot be empty")
	}
	if len(values) == 0 {
		return NewValidationError("vector values cannot be empty")
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata[models.MetaUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

	req := upsertRequest{
		Vectors:   []Vector{{ID: id, Values: values, Metadata: metadata}},
		Namespace: vs.cfg.Namespace,
	}
	_, err := doVectorJSON[upsertResponse](vs, ctx, "upsert", "/vectors/upsert", req)
	return err
}

type queryRequest struct {
	Namespace       string                 `json:"namespace,omitempty"`
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	IncludeValues   bool                   `json:"includeValues,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata,omitempty"`
}

type queryResponse struct {
	Matches []VectorMatch `json:"matches"`
}

// QuerySimilar returns up to topK nearest neighbors ordered descending by
// score, optionally filtered by a metadata predicate evaluated by the store.
func (vs *VectorService) QuerySimilar(ctx context.Context, vector []float32, topK int, filter map[string]interface{}, includeValues bool) ([]VectorMatch, error) {
	if len(vector) == 0 {
		return nil, NewValidationError("query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}
	req := queryRequest{
		Namespace:       vs.cfg.Namespace,
		Vector:          vector,
		TopK:            topK,
		Filter:          filter,
		IncludeValues:   includeValues,
		IncludeMetadata: true,
	}
	out, err := doVectorJSON[queryResponse](vs, ctx, "query", "/query", req)
	if err != nil {
		return nil, err
	}
	return out.Matches, nil
}

type fetchResponse struct {
	Vectors map[string]Vector `json:"vectors"`
}

// FetchVector returns the stored vector for id, or (nil, nil) when the user
// has no vector yet — an expected outcome, not an error.
func (vs *VectorService) FetchVector(ctx context.Context, id string) (*Vector, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("vector id cannot be empty")
	}
	if vs.dataURL == "" {
		if _, err := vs.ResolveHost(ctx); err != nil {
			return nil, err
		}
	}
	// The id comes from a caller-supplied path variable; it must not be able
	// to smuggle extra query parameters such as a different namespace.
	query := url.Values{}
	query.Set("ids", id)
	query.Set("namespace", vs.cfg.Namespace)
	u := vs.dataURL + "/vectors/fetch?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	vs.setHeaders(req)

	resp, err := vs.http.Do(req)
	if err != nil {
		return nil, &StoreError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StoreError{Op: "fetch", Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}
	var out fetchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &StoreError{Op: "fetch", Err: fmt.Errorf("decode: %w", err)}
	}
	v, ok := out.Vectors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (vs *VectorService) setHeaders(req *http.Request) {
	req.Header.Set("Api-Key", vs.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", vs.cfg.APIVersion)
}

func doVectorJSON[T any](vs *VectorService, ctx context.Context, op, path string, body interface{}) (*T, error) {
	if vs.dataURL == "" {
		if _, err := vs.ResolveHost(ctx); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vs.dataURL+path, &buf)
	if err != nil {
		return nil, err
	}
	vs.setHeaders(req)

	resp, err := vs.http.Do(req)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StoreError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &StoreError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return &out, nil
}
