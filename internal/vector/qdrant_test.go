package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/engramkit/engram/internal/storage"
)

func newQdrantServer(t *testing.T, handler http.HandlerFunc) *QdrantClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewQdrantClient(QdrantConfig{URL: server.URL, Enabled: true})
}

func TestSearchVectors(t *testing.T) {
	client := newQdrantServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/engram-memories/points/search" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["limit"].(float64) != 5 {
			t.Errorf("Expected limit 5, got %v", req["limit"])
		}
		if _, hasFilter := req["filter"]; !hasFilter {
			t.Error("Expected an agent filter")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"id": "m1", "score": 0.92},
				{"id": "m2", "score": 0.61},
			},
		})
	})

	results, err := client.SearchVectors([]float64{1, 0}, storage.SearchOptions{Agent: "alice", Limit: 5})
	if err != nil {
		t.Fatalf("SearchVectors failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "m1" || results[0].Similarity != 0.92 {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestSearchVectorsUnreachableSignalsFallback(t *testing.T) {
	client := NewQdrantClient(QdrantConfig{URL: "http://127.0.0.1:1", Enabled: true})
	results, err := client.SearchVectors([]float64{1}, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("Unreachable server should not error: %v", err)
	}
	if results != nil {
		t.Errorf("Expected nil fallback signal, got %+v", results)
	}
}

func TestSearchVectorsDisabled(t *testing.T) {
	client := NewQdrantClient(QdrantConfig{Enabled: false})
	results, err := client.SearchVectors([]float64{1}, storage.SearchOptions{})
	if err != nil || results != nil {
		t.Errorf("Disabled client should signal fallback, got %v / %v", results, err)
	}
}

func TestUpsertAndDeletePoint(t *testing.T) {
	var sawUpsert, sawDelete bool
	client := newQdrantServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/engram-memories/points":
			sawUpsert = true
		case "/collections/engram-memories/points/delete":
			sawDelete = true
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	ctx := context.Background()
	if err := client.UpsertPoint(ctx, "m1", []float64{1, 2}, map[string]any{"agent": "a"}); err != nil {
		t.Fatalf("UpsertPoint failed: %v", err)
	}
	if err := client.DeletePoint(ctx, "m1"); err != nil {
		t.Fatalf("DeletePoint failed: %v", err)
	}
	if !sawUpsert || !sawDelete {
		t.Errorf("Expected both endpoints hit: upsert=%v delete=%v", sawUpsert, sawDelete)
	}

	// Empty vectors are skipped silently.
	if err := client.UpsertPoint(ctx, "m2", nil, nil); err != nil {
		t.Errorf("Empty vector upsert should be a no-op: %v", err)
	}
}
