package ai

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
)

var log = logging.GetLogger("ai.ollama")

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Enabled        bool
}

// OllamaClient provides embeddings and chat via a local Ollama server.
// It implements Embedder, QueryEmbedder and Chatter.
type OllamaClient struct {
	baseURL        string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client
	enabled        bool
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	client := &OllamaClient{
		baseURL:        cfg.BaseURL,
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		enabled:        cfg.Enabled,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	if client.baseURL == "" {
		client.baseURL = "http://localhost:11434"
	}
	if client.embeddingModel == "" {
		client.embeddingModel = "nomic-embed-text"
	}
	if client.chatModel == "" {
		client.chatModel = "qwen2.5:3b"
	}
	return client
}

// IsAvailable checks if Ollama is reachable.
func (c *OllamaClient) IsAvailable() bool {
	if !c.enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
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

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates one embedding per text. A text the backend cannot embed
// yields a nil vector rather than failing the batch.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.enabled {
		return nil, fmt.Errorf("ollama is not enabled")
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, "search_document: "+text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warn("embedding failed for text", "index", i, "error", err)
			continue
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery embeds query texts with the model's query-side prefix.
func (c *OllamaClient) EmbedQuery(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.enabled {
		return nil, fmt.Errorf("ollama is not enabled")
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, "search_query: "+text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warn("query embedding failed", "index", i, "error", err)
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *OllamaClient) embedOne(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.embeddingModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Embedding, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Chat answers a single prompt with the chat model.
func (c *OllamaClient) Chat(ctx context.Context, prompt string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("ollama is not enabled")
	}

	body, err := json.Marshal(generateRequest{Model: c.chatModel, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Response, nil
}

// post sends a JSON request, retrying 429 responses with exponential
// backoff up to 3 times.
func (c *OllamaClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var out []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited (429)")
		}
		if resp.StatusCode != http.StatusOK {
			if readErr != nil {
				return backoff.Permanent(fmt.Errorf("request failed with status %d (body unreadable: %v)", resp.StatusCode, readErr))
			}
			return backoff.Permanent(fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data)))
		}
		if readErr != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response: %w", readErr))
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

// EmbeddingModel returns the configured embedding model.
func (c *OllamaClient) EmbeddingModel() string {
	return c.embeddingModel
}

// ChatModel returns the configured chat model.
func (c *OllamaClient) ChatModel() string {
	return c.chatModel
}
