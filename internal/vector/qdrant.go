// Package vector provides the optional Qdrant-backed server-side vector
// search capability. The client mirrors memory embeddings into a Qdrant
// collection (typically from an engine event listener) and serves the
// storage adapter's search hook; when Qdrant is unreachable the engine
// falls back to client-side cosine search.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/storage"
)

var log = logging.GetLogger("vector.qdrant")

// QdrantConfig configures the Qdrant client.
type QdrantConfig struct {
	URL        string
	Collection string
	Dimension  int
	Enabled    bool
}

// QdrantClient talks to a Qdrant server over its REST API.
type QdrantClient struct {
	baseURL    string
	collection string
	dimension  int
	enabled    bool
	httpClient *http.Client
}

// NewQdrantClient creates a new Qdrant client.
func NewQdrantClient(cfg QdrantConfig) *QdrantClient {
	client := &QdrantClient{
		baseURL:    cfg.URL,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if client.baseURL == "" {
		client.baseURL = "http://localhost:6333"
	}
	if client.collection == "" {
		client.collection = "engram-memories"
	}
	if client.dimension == 0 {
		client.dimension = 768
	}
	return client
}

// IsAvailable checks if Qdrant is reachable.
func (c *QdrantClient) IsAvailable() bool {
	if !c.enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/collections", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// InitCollection creates the collection if it doesn't exist.
func (c *QdrantClient) InitCollection(ctx context.Context) error {
	if !c.enabled {
		return fmt.Errorf("qdrant is not enabled")
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	createReq := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]any{
			"m":            16,
			"ef_construct": 100,
		},
	}
	body, err := json.Marshal(createReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := c.do(ctx, "PUT", url, body); err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}
	return nil
}

// UpsertPoint mirrors one memory embedding into the collection.
func (c *QdrantClient) UpsertPoint(ctx context.Context, id string, vector []float64, payload map[string]any) error {
	if !c.enabled {
		return fmt.Errorf("qdrant is not enabled")
	}
	if len(vector) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  vector,
			"payload": payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if _, err := c.do(ctx, "PUT", url, body); err != nil {
		return fmt.Errorf("upsert point failed: %w", err)
	}
	return nil
}

// DeletePoint removes one memory's vector from the collection.
func (c *QdrantClient) DeletePoint(ctx context.Context, id string) error {
	if !c.enabled {
		return fmt.Errorf("qdrant is not enabled")
	}

	body, err := json.Marshal(map[string]any{"points": []string{id}})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	if _, err := c.do(ctx, "POST", url, body); err != nil {
		return fmt.Errorf("delete point failed: %w", err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID    any     `json:"id"`
		Score float64 `json:"score"`
	} `json:"result"`
}

// SearchVectors implements storage.VectorSearcher. A nil result signals the
// engine to use its client-side path.
func (c *QdrantClient) SearchVectors(embedding []float64, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if !c.enabled || len(embedding) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	searchReq := map[string]any{
		"vector":          embedding,
		"limit":           limit,
		"score_threshold": opts.MinSimilarity,
	}
	if opts.Agent != "" {
		searchReq["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "agent", "match": map[string]any{"value": opts.Agent}},
			},
		}
	}

	body, err := json.Marshal(searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	data, err := c.do(ctx, "POST", url, body)
	if err != nil {
		// Unreachable server is a fallback signal, not a failure.
		log.Warn("qdrant search unavailable", "error", err)
		return nil, nil
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	out := make([]storage.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, storage.SearchResult{
			ID:         fmt.Sprintf("%v", r.ID),
			Similarity: r.Score,
		})
	}
	return out, nil
}

// do sends a request, retrying 429 responses with exponential backoff up
// to 3 times.
func (c *QdrantClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var out []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited (429)")
		}
		if resp.StatusCode != http.StatusOK {
			if readErr != nil {
				return backoff.Permanent(fmt.Errorf("status %d (body unreadable: %v)", resp.StatusCode, readErr))
			}
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
		}
		if readErr != nil {
			return backoff.Permanent(readErr)
		}
		out = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}
