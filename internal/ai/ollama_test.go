package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OllamaClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Enabled: true})
	return server, client
}

func TestEmbed(t *testing.T) {
	_, client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Bad request body: %v", err)
		}
		if !strings.HasPrefix(req.Prompt, "search_document: ") {
			t.Errorf("Expected document prefix, got %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float64{0.1, 0.2}})
	})

	vecs, err := client.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Errorf("Unexpected vectors: %+v", vecs)
	}
}

func TestEmbedQueryUsesQueryPrefix(t *testing.T) {
	var sawQueryPrefix atomic.Bool
	_, client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if strings.HasPrefix(req.Prompt, "search_query: ") {
			sawQueryPrefix.Store(true)
		}
		json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float64{1}})
	})

	if _, err := client.EmbedQuery(context.Background(), []string{"find things"}); err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if !sawQueryPrefix.Load() {
		t.Error("Expected the query-side prefix")
	}
}

func TestChat(t *testing.T) {
	_, client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "the answer", Done: true})
	})

	answer, err := client.Chat(context.Background(), "a question")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("Unexpected answer: %q", answer)
	}
}

func TestRetryOn429(t *testing.T) {
	var calls atomic.Int32
	_, client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "eventually", Done: true})
	})

	answer, err := client.Chat(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("Chat should survive 429s: %v", err)
	}
	if answer != "eventually" {
		t.Errorf("Unexpected answer: %q", answer)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	})

	if _, err := client.Chat(context.Background(), "boom"); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("Non-429 errors should not retry, got %d attempts", calls.Load())
	}
}

func TestDisabledClient(t *testing.T) {
	client := NewOllamaClient(OllamaConfig{Enabled: false})
	if _, err := client.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("Disabled client should refuse to embed")
	}
	if client.IsAvailable() {
		t.Error("Disabled client should not report available")
	}
}
